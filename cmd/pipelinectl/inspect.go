package main

import (
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentmetadataflow/internal/gcp"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

var (
	stagingBucket string
	stagingPrefix string
	inspectPretty bool
)

var inspectSegmentCmd = &cobra.Command{
	Use:   "inspect-segment [segment-id]",
	Short: "Print the records staged in a batch segment",
	Long: `Reads every staged record of the segment and prints it as one JSON line.
Without a segment ID, lists the segments under the staging prefix.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspectSegment,
}

func init() {
	inspectSegmentCmd.Flags().StringVar(&stagingBucket, "bucket", gcp.GetEnv("STAGING_BUCKET", ""), "staging bucket")
	inspectSegmentCmd.Flags().StringVar(&stagingPrefix, "prefix", gcp.GetEnv("STAGING_PREFIX", "jsonl-metadata"), "staging prefix")
	inspectSegmentCmd.Flags().BoolVar(&inspectPretty, "pretty", false, "indent the JSON output")
	rootCmd.AddCommand(inspectSegmentCmd)
}

func runInspectSegment(cmd *cobra.Command, args []string) error {
	if stagingBucket == "" {
		return fmt.Errorf("--bucket or STAGING_BUCKET is required")
	}
	ctx := cmd.Context()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()
	staging := gcp.NewStagingStore(client, stagingBucket, stagingPrefix)

	if len(args) == 0 {
		refs, err := staging.ListSegments(ctx)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			cmd.Printf("%s\t%s\n", ref.ID, ref.URI)
		}
		return nil
	}

	records, err := staging.ReadSegment(ctx, args[0])
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), records, inspectPretty)
}

func writeRecords(w io.Writer, records []models.BatchRecord, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
	}
	return nil
}
