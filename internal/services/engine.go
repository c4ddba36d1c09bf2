package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/googleapis/gax-go/v2"
	"golang.org/x/time/rate"

	"github.com/Lllllllleong/documentmetadataflow/internal/metrics"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

// EngineConfig bounds each engine call and the retry budget around it.
type EngineConfig struct {
	CallTimeout    time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RateLimit caps engine calls per second for this instance. Zero disables it.
	RateLimit float64
}

// ExtractionResult is a successful extraction and the number of engine calls it took.
type ExtractionResult struct {
	Fields   models.FieldMap
	Attempts int
}

// Extractor wraps an ExtractionEngine with a per-call timeout, jittered
// exponential backoff and failure classification.
type Extractor struct {
	engine  ExtractionEngine
	cfg     EngineConfig
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewExtractor creates the engine adapter.
func NewExtractor(engine ExtractionEngine, cfg EngineConfig, logger *slog.Logger, m *metrics.Metrics) *Extractor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	x := &Extractor{
		engine:  engine,
		cfg:     cfg,
		sleep:   gax.Sleep,
		logger:  logger,
		metrics: m,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		x.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return x
}

// Extract calls the engine until it succeeds, fails permanently, or the
// attempt ceiling is reached. A failure is always an *models.ExtractionError,
// except when ctx ends first, in which case the error wraps
// models.ErrDeadlineExceeded and no outcome should be recorded.
func (x *Extractor) Extract(ctx context.Context, src models.SourceRef, sch *schema.Schema) (*ExtractionResult, error) {
	bo := gax.Backoff{
		Initial:    x.cfg.BackoffInitial,
		Max:        x.cfg.BackoffMax,
		Multiplier: 2,
	}
	logCtx := x.logger.With("sourceRef", src.URI, "schemaId", sch.ID)

	var lastErr error
	for attempt := 1; attempt <= x.cfg.MaxAttempts; attempt++ {
		if x.limiter != nil {
			if err := x.limiter.Wait(ctx); err != nil {
				return nil, deadlineError(ctx, err)
			}
		}

		fields, err := x.call(ctx, src, sch)
		if err == nil {
			x.metrics.RecordExtractionCall("success")
			return &ExtractionResult{Fields: fields, Attempts: attempt}, nil
		}
		if ctx.Err() != nil {
			x.metrics.RecordExtractionCall("abandoned")
			return nil, deadlineError(ctx, err)
		}
		if models.IsPermanent(err) {
			x.metrics.RecordExtractionCall("permanent")
			logCtx.Warn("Extraction failed permanently.", "attempt", attempt, "error", unwrapKind(err))
			return nil, &models.ExtractionError{Kind: models.KindPermanent, Attempts: attempt, Err: unwrapKind(err)}
		}

		x.metrics.RecordExtractionCall("retryable")
		lastErr = unwrapKind(err)
		if attempt == x.cfg.MaxAttempts {
			break
		}

		pause := bo.Pause()
		logCtx.Warn(
			"Extraction failed, will retry.",
			"attempt", attempt,
			"maxAttempts", x.cfg.MaxAttempts,
			"backoff", pause.String(),
			"error", unwrapKind(err),
		)
		if err := x.sleep(ctx, pause); err != nil {
			return nil, deadlineError(ctx, err)
		}
	}

	logCtx.Error("Extraction failed after all retries.", "attempts", x.cfg.MaxAttempts, "error", lastErr)
	return nil, &models.ExtractionError{Kind: models.KindRetryable, Attempts: x.cfg.MaxAttempts, Err: lastErr}
}

// call runs one engine request bounded by the per-call timeout. A call that
// hits its own timeout while ctx is still live is a retryable failure.
func (x *Extractor) call(ctx context.Context, src models.SourceRef, sch *schema.Schema) (models.FieldMap, error) {
	callCtx := ctx
	if x.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.cfg.CallTimeout)
		defer cancel()
	}

	fields, err := x.engine.Extract(callCtx, src, sch)
	if err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			return nil, models.Retryable(fmt.Errorf("engine call timed out after %s: %w", x.cfg.CallTimeout, err))
		}
		return nil, err
	}
	if fields == nil {
		fields = models.FieldMap{}
	}
	return fields, nil
}

func unwrapKind(err error) error {
	var ee *models.ExtractionError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err
	}
	return err
}

func deadlineError(ctx context.Context, err error) error {
	cause := ctx.Err()
	if cause == nil {
		cause = err
	}
	return fmt.Errorf("%w: %w", models.ErrDeadlineExceeded, cause)
}
