package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/documentmetadataflow/internal/gcp"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/services"
)

var (
	uploadTopic      string
	reprocessLimit   int
	reprocessWorkers int
	reprocessDryRun  bool
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Re-run extraction for FAILED records",
	Long: `Lists records in the FAILED state and publishes an upload event for each
one to the upload topic. The events carry the reprocess attribute, so the
extractor runs again even for records it has already seen.`,
	RunE: runReprocess,
}

func init() {
	reprocessCmd.Flags().StringVar(&uploadTopic, "topic", gcp.GetEnv("UPLOAD_TOPIC_ID", ""), "topic the extractor consumes upload events from")
	reprocessCmd.Flags().IntVar(&reprocessLimit, "limit", 0, "maximum number of records to reprocess, 0 for all")
	reprocessCmd.Flags().IntVar(&reprocessWorkers, "parallel", 8, "concurrent publishes")
	reprocessCmd.Flags().BoolVar(&reprocessDryRun, "dry-run", false, "list the records without publishing")
	rootCmd.AddCommand(reprocessCmd)
}

func runReprocess(cmd *cobra.Command, _ []string) error {
	if uploadTopic == "" && !reprocessDryRun {
		return errors.New("--topic or UPLOAD_TOPIC_ID is required")
	}
	ctx := cmd.Context()

	store, err := services.LoadStoreConfig()
	if err != nil {
		return err
	}
	fsClient, err := gcp.NewFirestoreClient(ctx, store.ProjectID, store.FirestoreDatabase)
	if err != nil {
		return err
	}
	defer fsClient.Close()
	records := gcp.NewRecordStore(fsClient, store.CollectionName)

	var publisher services.Publisher
	if !reprocessDryRun {
		psClient, err := gcp.NewPubSubClient(ctx, store.ProjectID)
		if err != nil {
			return err
		}
		defer psClient.Close()
		p := gcp.NewPublisher(psClient, uploadTopic)
		defer p.Stop()
		publisher = p
	}

	n, err := reprocessFailed(ctx, records, publisher, reprocessLimit, reprocessWorkers, cmd.OutOrStdout())
	cmd.Printf("Requested reprocessing of %d record(s).\n", n)
	return err
}

// statusLister lists records by status.
type statusLister interface {
	ListByStatus(ctx context.Context, st models.Status, limit int) ([]*models.MetadataRecord, error)
}

// reprocessFailed publishes a reprocess message per FAILED record. A nil
// publisher only lists the records. It returns how many were requested.
func reprocessFailed(ctx context.Context, records statusLister, publisher services.Publisher, limit, parallel int, out io.Writer) (int, error) {
	failed, err := records.ListByStatus(ctx, models.StatusFailed, limit)
	if err != nil {
		return 0, err
	}
	if publisher == nil {
		for _, rec := range failed {
			fmt.Fprintf(out, "%s\tattempts=%d\tlast_error=%s\n", rec.Key, rec.ProcessingAttempts, rec.LastError)
		}
		return len(failed), nil
	}

	if parallel < 1 {
		parallel = 1
	}
	var requested atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, rec := range failed {
		g.Go(func() error {
			data, attrs, err := services.ReprocessMessage(rec)
			if err != nil {
				return err
			}
			id, err := publisher.Publish(gctx, data, attrs)
			if err != nil {
				return fmt.Errorf("failed to request reprocessing of %s: %w", rec.Key, err)
			}
			requested.Add(1)
			slog.Info("Requested reprocessing", "document", rec.Key.String(), "messageId", id)
			return nil
		})
	}
	err = g.Wait()
	return int(requested.Load()), err
}
