package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/Lllllllleong/documentmetadataflow/internal/metrics"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

// ExtractionWorkerConfig holds the behavior switches of the extraction worker.
type ExtractionWorkerConfig struct {
	TargetPathPrefix      string
	SupportedContentTypes []string
	OverwriteExisting     bool
	LeaseTTL              time.Duration
	ProcessingDeadline    time.Duration
}

// ExtractionWorker turns "document uploaded" events into EXTRACTED or FAILED
// metadata records and announces EXTRACTED records on the bus.
type ExtractionWorker struct {
	store     RecordStore
	leases    LeaseStore
	extractor *Extractor
	preflight *Preflight
	publisher Publisher
	schema    *schema.Schema
	cfg       ExtractionWorkerConfig
	workerOptions
}

// NewExtractionWorker creates the worker. preflight may be nil.
func NewExtractionWorker(
	store RecordStore,
	leases LeaseStore,
	extractor *Extractor,
	preflight *Preflight,
	publisher Publisher,
	sch *schema.Schema,
	cfg ExtractionWorkerConfig,
	opts ...Option,
) (*ExtractionWorker, error) {
	if store == nil || leases == nil || extractor == nil || publisher == nil {
		return nil, fmt.Errorf("extraction worker requires a record store, lease store, extractor and publisher")
	}
	if sch == nil {
		return nil, fmt.Errorf("extraction worker requires a schema")
	}
	o := applyOptions(opts)
	if o.holderID == "" {
		o.holderID = uuid.NewString()
	}
	return &ExtractionWorker{
		store:         store,
		leases:        leases,
		extractor:     extractor,
		preflight:     preflight,
		publisher:     publisher,
		schema:        sch,
		cfg:           cfg,
		workerOptions: o,
	}, nil
}

// Handle processes one upload event. A nil error acknowledges the event; a
// non-nil error asks the bus to redeliver it.
func (w *ExtractionWorker) Handle(ctx context.Context, evt *models.DocumentEvent) (outcome Outcome, err error) {
	started := w.now()
	defer func() {
		w.metrics.RecordEvent(metrics.StageExtraction, string(outcome), started)
	}()

	if w.cfg.ProcessingDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ProcessingDeadline)
		defer cancel()
	}

	key := evt.Key
	logCtx := w.logger.With(
		"bucket", key.Bucket,
		"object", key.ObjectPath,
		"generation", key.Generation,
		"documentId", key.ID(),
	)

	if !strings.HasPrefix(key.ObjectPath, w.cfg.TargetPathPrefix) {
		logCtx.Info("Object is outside the target path prefix. Skipping.", "targetPathPrefix", w.cfg.TargetPathPrefix)
		return OutcomeSkipped, nil
	}

	rec, err := readRecord(ctx, w.store, key)
	if err != nil {
		logCtx.Error("Failed to read metadata record", "error", err)
		return OutcomeRetry, err
	}
	if outcome, done, err := w.settled(ctx, logCtx, evt, rec); done {
		return outcome, err
	}

	if err := w.leases.Acquire(ctx, key, w.holderID, w.cfg.LeaseTTL); err != nil {
		if errors.Is(err, models.ErrLeaseHeld) {
			logCtx.Info("Another worker is extracting this document. Leaving for redelivery.")
			return OutcomeRetry, err
		}
		err = ioError(ctx, "failed to acquire extraction lease", err)
		logCtx.Error("Failed to acquire extraction lease", "error", err)
		return OutcomeRetry, err
	}
	defer w.releaseLease(ctx, logCtx, key)

	// The state may have moved while the lease was contended.
	rec, err = readRecord(ctx, w.store, key)
	if err != nil {
		logCtx.Error("Failed to re-read metadata record under lease", "error", err)
		return OutcomeRetry, err
	}
	if outcome, done, err := w.settled(ctx, logCtx, evt, rec); done {
		return outcome, err
	}

	expected := models.StatusOf(rec)
	contentType := resolveContentType(evt)
	logCtx = logCtx.With("priorStatus", expected, "contentType", contentType)
	logCtx.Info("Starting metadata extraction.")

	if !w.supported(contentType) {
		return w.recordFailure(ctx, logCtx, evt, rec, contentType, 1, 0, fmt.Sprintf("unsupported content type %q", contentType))
	}

	var pageCount int
	if w.preflight != nil {
		res, err := w.preflight.Check(ctx, evt, contentType)
		switch {
		case err == nil:
			pageCount = res.PageCount
		case models.IsPermanent(err):
			return w.recordFailure(ctx, logCtx, evt, rec, contentType, 1, 0, unwrapKind(err).Error())
		default:
			if ctx.Err() != nil {
				err = deadlineError(ctx, err)
			}
			logCtx.Error("Preflight check failed", "error", err)
			return OutcomeRetry, err
		}
	}

	src := models.SourceRef{URI: key.SourceURI(), MIMEType: contentType}
	result, err := w.extractor.Extract(ctx, src, w.schema)
	if err != nil {
		var ee *models.ExtractionError
		if !errors.As(err, &ee) {
			logCtx.Warn("Extraction abandoned. Record left unchanged for redelivery.", "error", err)
			return OutcomeRetry, err
		}
		lastErr := ee.Err.Error()
		if ee.Kind == models.KindRetryable {
			lastErr = models.LastErrorAttemptsExhausted
		}
		return w.recordFailure(ctx, logCtx, evt, rec, contentType, ee.Attempts, pageCount, lastErr)
	}

	next := w.nextRecord(evt, rec, contentType)
	next.Status = models.StatusExtracted
	next.ExtractedFields = result.Fields
	next.ProcessingAttempts += result.Attempts
	next.PageCount = pageCount
	next.LastError = ""

	won, err := commitTransition(ctx, w.store, key, expected, next)
	if err != nil {
		logCtx.Error("Failed to record extracted metadata", "error", err)
		return OutcomeRetry, err
	}
	if !won {
		logCtx.Info("Lost the state transition to another writer. Acknowledging.")
		return OutcomeConflict, nil
	}

	if err := w.publishReady(ctx, key); err != nil {
		logCtx.Error("Failed to publish metadata ready event", "error", err)
		return OutcomeRetry, err
	}
	logCtx.Info("Metadata extraction complete.", "attempts", next.ProcessingAttempts, "fieldCount", len(next.ExtractedFields))
	return OutcomeExtracted, nil
}

// HandleMessage decodes a bus message into an upload event and handles it.
// Undecodable messages and non-finalize notifications are acknowledged.
func (w *ExtractionWorker) HandleMessage(ctx context.Context, data []byte, attrs map[string]string) error {
	evt, err := DocumentEventFromMessage(data, attrs)
	return w.dispatch(ctx, evt, err)
}

// HandleCloudEvent decodes a storage or Pub/Sub CloudEvent and handles it.
func (w *ExtractionWorker) HandleCloudEvent(ctx context.Context, e cloudevents.Event) error {
	evt, err := DocumentEventFromCloudEvent(e)
	return w.dispatch(ctx, evt, err)
}

func (w *ExtractionWorker) dispatch(ctx context.Context, evt *models.DocumentEvent, decodeErr error) error {
	if decodeErr != nil {
		if errors.Is(decodeErr, models.ErrInvalidEvent) {
			w.logger.Warn("Dropping undecodable upload event", "error", decodeErr)
			return nil
		}
		return decodeErr
	}
	if evt == nil {
		return nil
	}
	_, err := w.Handle(ctx, evt)
	return err
}

// settled handles an event whose document already reached a terminal
// outcome. EXTRACTED and PUBLISHED records re-announce themselves; FAILED
// records are acknowledged as they are. Reprocess events and the overwrite
// flag always extract again.
func (w *ExtractionWorker) settled(ctx context.Context, logCtx *slog.Logger, evt *models.DocumentEvent, rec *models.MetadataRecord) (Outcome, bool, error) {
	if rec == nil || w.cfg.OverwriteExisting || evt.Reprocess {
		return "", false, nil
	}
	switch {
	case rec.Status.AtLeastExtracted():
		outcome, err := w.reemit(ctx, logCtx, evt.Key, rec.Status)
		return outcome, true, err
	case rec.Status == models.StatusFailed:
		logCtx.Info("Extraction already failed for this document. Acknowledging; reprocess to retry.",
			"lastError", rec.LastError, "attempts", rec.ProcessingAttempts)
		return OutcomeShortCircuited, true, nil
	}
	return "", false, nil
}

// reemit re-announces an already extracted record so a lost downstream event heals.
func (w *ExtractionWorker) reemit(ctx context.Context, logCtx *slog.Logger, key models.DocumentKey, status models.Status) (Outcome, error) {
	if err := w.publishReady(ctx, key); err != nil {
		logCtx.Error("Failed to re-publish metadata ready event", "error", err)
		return OutcomeRetry, err
	}
	logCtx.Info("Metadata already extracted. Re-published ready event.", "status", status)
	return OutcomeShortCircuited, nil
}

func (w *ExtractionWorker) recordFailure(
	ctx context.Context,
	logCtx *slog.Logger,
	evt *models.DocumentEvent,
	rec *models.MetadataRecord,
	contentType string,
	attempts, pageCount int,
	lastErr string,
) (Outcome, error) {
	expected := models.StatusOf(rec)
	next := w.nextRecord(evt, rec, contentType)
	next.Status = models.StatusFailed
	next.ProcessingAttempts += attempts
	next.LastError = lastErr
	if pageCount > 0 {
		next.PageCount = pageCount
	}

	won, err := commitTransition(ctx, w.store, evt.Key, expected, next)
	if err != nil {
		logCtx.Error("Failed to record extraction failure", "error", err, "lastError", lastErr)
		return OutcomeRetry, err
	}
	if !won {
		logCtx.Info("Lost the state transition to another writer. Acknowledging.")
		return OutcomeConflict, nil
	}
	logCtx.Warn("Metadata extraction failed. Recorded for operator review.", "lastError", lastErr, "attempts", next.ProcessingAttempts)
	return OutcomeFailed, nil
}

// nextRecord starts the replacement record from the prior one, if any.
func (w *ExtractionWorker) nextRecord(evt *models.DocumentEvent, prior *models.MetadataRecord, contentType string) *models.MetadataRecord {
	now := w.now().UTC()
	next := &models.MetadataRecord{CreatedAt: now}
	if prior != nil {
		next = prior.Clone()
	}
	next.Key = evt.Key
	next.SourceRef = evt.Key.SourceURI()
	next.ContentType = contentType
	next.SchemaID = w.schema.ID
	next.UpdatedAt = now
	return next
}

func (w *ExtractionWorker) publishReady(ctx context.Context, key models.DocumentKey) error {
	data, err := json.Marshal(models.NewMetadataReady(key))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata ready event: %w", err)
	}
	attrs := map[string]string{
		"documentId":       key.ID(),
		"bucketId":         key.Bucket,
		"objectGeneration": key.GenerationString(),
	}
	if _, err := w.publisher.Publish(ctx, data, attrs); err != nil {
		return ioError(ctx, "failed to publish metadata ready event", err)
	}
	return nil
}

func (w *ExtractionWorker) releaseLease(ctx context.Context, logCtx *slog.Logger, key models.DocumentKey) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.leases.Release(releaseCtx, key, w.holderID); err != nil {
		logCtx.Warn("Failed to release extraction lease. It will expire.", "error", err)
	}
}

func (w *ExtractionWorker) supported(contentType string) bool {
	if len(w.cfg.SupportedContentTypes) == 0 {
		return true
	}
	for _, ct := range w.cfg.SupportedContentTypes {
		if strings.EqualFold(ct, contentType) {
			return true
		}
	}
	return false
}

// resolveContentType prefers the declared media type and falls back to the
// object's extension when the upload was untyped.
func resolveContentType(evt *models.DocumentEvent) string {
	ct := evt.ContentType
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mediaType
	}
	if ct != "" && ct != "application/octet-stream" {
		return strings.ToLower(ct)
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(evt.Key.ObjectPath))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
		return byExt
	}
	return ct
}
