package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentmetadataflow/internal/metrics"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// Outcome describes what a worker did with one message. A handler that
// returns a nil error has acknowledged the message.
type Outcome string

const (
	OutcomeSkipped        Outcome = "skipped"
	OutcomeShortCircuited Outcome = "short_circuited"
	OutcomeExtracted      Outcome = "extracted"
	OutcomeFailed         Outcome = "failed"
	OutcomeConflict       Outcome = "conflict"
	OutcomeDropped        Outcome = "dropped"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomePublished      Outcome = "published"
	OutcomeRetry          Outcome = "retry"
)

// Option configures a worker.
type Option func(*workerOptions)

type workerOptions struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	holderID string
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. Default is a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *workerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *workerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHolderID sets the lease holder identity of this worker instance.
func WithHolderID(id string) Option {
	return func(o *workerOptions) {
		if id != "" {
			o.holderID = id
		}
	}
}

func applyOptions(opts []Option) workerOptions {
	o := workerOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	return o
}

// readRecord returns the persisted record for key, or nil when none exists.
func readRecord(ctx context.Context, store RecordStore, key models.DocumentKey) (*models.MetadataRecord, error) {
	rec, err := store.GetRecord(ctx, key)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError(ctx, "failed to read metadata record", err)
	}
	return rec, nil
}

// commitTransition writes rec if the persisted status still equals expected.
// Losing the race is reported as won == false with a nil error: the other
// writer's effect stands and the message can be acknowledged.
func commitTransition(ctx context.Context, store RecordStore, key models.DocumentKey, expected models.Status, rec *models.MetadataRecord) (won bool, err error) {
	if !expected.CanTransition(rec.Status) {
		return false, fmt.Errorf("illegal transition %s -> %s for %s", expected, rec.Status, key)
	}
	err = store.UpsertRecord(ctx, key, expected, rec)
	if errors.Is(err, models.ErrStateConflict) {
		return false, nil
	}
	if err != nil {
		return false, ioError(ctx, "failed to upsert metadata record", err)
	}
	return true, nil
}

// ioError classifies a store or bus failure. When the invocation deadline
// caused it the error wraps models.ErrDeadlineExceeded.
func ioError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return deadlineError(ctx, err)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrTransientIO, msg, err)
}
