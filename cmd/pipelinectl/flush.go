package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/services"
)

var flushCmd = &cobra.Command{
	Use:   "flush [segment-id...]",
	Short: "Re-notify the index of staged segments",
	Long: `Triggers index ingestion for the given segments, or for every segment
under the staging prefix when none is named. Imports are incremental and
keyed by document ID, so notifying a segment twice is harmless.`,
	RunE: runFlush,
}

func init() {
	rootCmd.AddCommand(flushCmd)
}

func runFlush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := services.NewRefreshService(ctx, services.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer svc.Close()

	refs, err := svc.Staging.ListSegments(ctx)
	if err != nil {
		return err
	}
	refs = selectSegments(refs, args)
	if len(refs) == 0 {
		cmd.Println("No segments to notify.")
		return nil
	}

	if err := services.NotifySegments(ctx, svc.Notifier, refs, slog.Default()); err != nil {
		return fmt.Errorf("flush incomplete: %w", err)
	}
	cmd.Printf("Notified %d segment(s).\n", len(refs))
	return nil
}

// selectSegments keeps the refs named in ids, or all of them when ids is empty.
func selectSegments(refs []models.SegmentRef, ids []string) []models.SegmentRef {
	if len(ids) == 0 {
		return refs
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.SegmentRef
	for _, ref := range refs {
		if want[ref.ID] {
			out = append(out, ref)
		}
	}
	return out
}
