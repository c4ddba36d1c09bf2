package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentmetadataflow/internal/metrics"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

// RefreshWorker moves EXTRACTED records into staging segments and keeps the
// index informed about segments that received new records.
type RefreshWorker struct {
	store     RecordStore
	segmenter *Segmenter
	notifier  IndexNotifier
	schema    *schema.Schema
	deadline  time.Duration
	workerOptions
}

// NewRefreshWorker creates the worker. sch normalizes records whose schema
// is not one of the built-in schemas.
func NewRefreshWorker(store RecordStore, segmenter *Segmenter, notifier IndexNotifier, sch *schema.Schema, deadline time.Duration, opts ...Option) (*RefreshWorker, error) {
	if store == nil || segmenter == nil || notifier == nil {
		return nil, fmt.Errorf("refresh worker requires a record store, segmenter and index notifier")
	}
	if sch == nil {
		return nil, fmt.Errorf("refresh worker requires a schema")
	}
	return &RefreshWorker{
		store:         store,
		segmenter:     segmenter,
		notifier:      notifier,
		schema:        sch,
		deadline:      deadline,
		workerOptions: applyOptions(opts),
	}, nil
}

// Handle publishes the record for key. A nil error acknowledges the event.
func (w *RefreshWorker) Handle(ctx context.Context, key models.DocumentKey) (outcome Outcome, err error) {
	started := w.now()
	defer func() {
		w.metrics.RecordEvent(metrics.StageRefresh, string(outcome), started)
	}()

	if w.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.deadline)
		defer cancel()
	}

	logCtx := w.logger.With(
		"bucket", key.Bucket,
		"object", key.ObjectPath,
		"generation", key.Generation,
		"documentId", key.ID(),
	)

	rec, err := readRecord(ctx, w.store, key)
	if err != nil {
		logCtx.Error("Failed to read metadata record", "error", err)
		return OutcomeRetry, err
	}
	switch models.StatusOf(rec) {
	case models.StatusExtracted:
	case models.StatusPublished:
		logCtx.Info("Record already published. Acknowledging duplicate.", "segment", rec.PublishedSegment)
		return OutcomeDuplicate, nil
	default:
		logCtx.Warn("Record is not ready to publish. Dropping event.", "status", models.StatusOf(rec))
		return OutcomeDropped, nil
	}

	line, err := models.NewBatchRecord(rec, w.schemaFor(rec).Normalize(rec.ExtractedFields)).EncodeLine()
	if err != nil {
		// An unencodable field map will not heal on redelivery.
		logCtx.Error("Failed to encode batch record. Dropping event.", "error", err)
		return OutcomeDropped, nil
	}

	ref, created, err := w.segmenter.Append(ctx, key.ID(), line)
	if err != nil {
		err = ioError(ctx, "failed to stage batch record", err)
		logCtx.Error("Failed to stage batch record", "error", err)
		return OutcomeRetry, err
	}
	logCtx = logCtx.With("segment", ref.ID)
	if !created {
		logCtx.Info("Batch record already staged in segment.")
	}

	next := rec.Clone()
	next.Status = models.StatusPublished
	next.PublishedSegment = ref.ID
	next.UpdatedAt = w.now().UTC()
	won, err := commitTransition(ctx, w.store, key, models.StatusExtracted, next)
	if err != nil {
		logCtx.Error("Failed to mark record published", "error", err)
		return OutcomeRetry, err
	}
	if !won {
		logCtx.Info("Lost the state transition to another writer. Acknowledging.")
		return OutcomeConflict, nil
	}

	logCtx.Info("Record staged for indexing.")
	w.notifyPending(ctx, logCtx)
	return OutcomePublished, nil
}

// Flush seals an aged open segment and notifies every pending segment.
func (w *RefreshWorker) Flush(ctx context.Context) error {
	w.segmenter.SealExpired()
	return w.notifyPending(ctx, w.logger)
}

// HandleMessage decodes a "metadata ready" bus message and handles it.
func (w *RefreshWorker) HandleMessage(ctx context.Context, data []byte, _ map[string]string) error {
	key, err := MetadataReadyFromMessage(data)
	return w.dispatch(ctx, key, err)
}

// HandleCloudEvent decodes a "metadata ready" Pub/Sub push and handles it.
func (w *RefreshWorker) HandleCloudEvent(ctx context.Context, e cloudevents.Event) error {
	key, err := MetadataReadyFromCloudEvent(e)
	return w.dispatch(ctx, key, err)
}

func (w *RefreshWorker) dispatch(ctx context.Context, key models.DocumentKey, decodeErr error) error {
	if decodeErr != nil {
		if errors.Is(decodeErr, models.ErrInvalidEvent) {
			w.logger.Warn("Dropping undecodable metadata ready event", "error", decodeErr)
			return nil
		}
		return decodeErr
	}
	_, err := w.Handle(ctx, key)
	return err
}

// notifyPending hands pending segments to the index. Failures leave the
// segment pending and never fail the current message.
func (w *RefreshWorker) notifyPending(ctx context.Context, logCtx *slog.Logger) error {
	var errs []error
	for _, p := range w.segmenter.Pending() {
		err := w.notifier.NotifyNewSegment(ctx, p.Ref)
		w.metrics.RecordNotification(err)
		if err != nil {
			logCtx.Warn("Failed to notify index of segment. Will retry.", "segment", p.Ref.ID, "uri", p.Ref.URI, "error", err)
			errs = append(errs, fmt.Errorf("segment %s: %w", p.Ref.ID, err))
			continue
		}
		w.segmenter.MarkNotified(p)
		logCtx.Info("Notified index of segment.", "segment", p.Ref.ID, "uri", p.Ref.URI)
	}
	return errors.Join(errs...)
}

func (w *RefreshWorker) schemaFor(rec *models.MetadataRecord) *schema.Schema {
	if rec.SchemaID == "" || rec.SchemaID == w.schema.ID {
		return w.schema
	}
	if sch, err := schema.Lookup(rec.SchemaID); err == nil {
		return sch
	}
	return w.schema
}

// NotifySegments re-triggers index ingestion for refs. It is used to recover
// segments whose notification was lost with the instance that staged them.
func NotifySegments(ctx context.Context, notifier IndexNotifier, refs []models.SegmentRef, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, ref := range refs {
		if err := notifier.NotifyNewSegment(ctx, ref); err != nil {
			logger.Error("Failed to notify index of segment", "segment", ref.ID, "uri", ref.URI, "error", err)
			errs = append(errs, fmt.Errorf("segment %s: %w", ref.ID, err))
			continue
		}
		logger.Info("Notified index of segment.", "segment", ref.ID, "uri", ref.URI)
	}
	return errors.Join(errs...)
}
