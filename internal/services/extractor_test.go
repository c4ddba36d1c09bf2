package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentmetadataflow/internal/memory"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

func TestNewExtractionWorker_RequiresDependencies(t *testing.T) {
	x := NewExtractor(succeedingEngine(nil), defaultEngineConfig(), nil, nil)
	_, err := NewExtractionWorker(nil, memory.NewLeaseStore(), x, nil, memory.NewPublisher(), schema.LeaseV1, defaultWorkerConfig())
	assert.Error(t, err)
	_, err = NewExtractionWorker(memory.NewRecordStore(), memory.NewLeaseStore(), x, nil, memory.NewPublisher(), nil, defaultWorkerConfig())
	assert.Error(t, err)

	w, err := NewExtractionWorker(memory.NewRecordStore(), memory.NewLeaseStore(), x, nil, memory.NewPublisher(), schema.LeaseV1, defaultWorkerConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, w.holderID)
}

func TestExtractionWorker_Handle_ExtractsAndPublishes(t *testing.T) {
	env := newExtractionEnv(t, succeedingEngine(leaseFields()), defaultWorkerConfig(), defaultEngineConfig(), nil, nil)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusExtracted, rec.Status)
	assert.Equal(t, 1, rec.ProcessingAttempts)
	assert.Equal(t, "Toronto", rec.ExtractedFields["city"])
	assert.Equal(t, "gs://bucket1/leases/a.pdf", rec.SourceRef)
	assert.Equal(t, "application/pdf", rec.ContentType)
	assert.Equal(t, schema.LeaseV1.ID, rec.SchemaID)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, fixedTime, rec.CreatedAt)

	msgs := env.publisher.Messages()
	require.Len(t, msgs, 1)
	var ready models.MetadataReady
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ready))
	key, err := ready.Key()
	require.NoError(t, err)
	assert.Equal(t, leaseKey, key)
	assert.Equal(t, leaseKey.ID(), msgs[0].Attributes["documentId"])
	assert.Equal(t, "7", msgs[0].Attributes["objectGeneration"])

	// The lease is released once the record is committed.
	assert.Empty(t, env.leases.Holder(leaseKey))
}

func TestExtractionWorker_Handle_OutsidePrefixIsSkipped(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)

	other := models.DocumentKey{Bucket: "bucket1", ObjectPath: "invoices/a.pdf", Generation: 7}
	outcome, err := env.worker.Handle(context.Background(), uploadEvent(other))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, engine.Calls())
	assert.Empty(t, env.publisher.Messages())

	_, err = env.records.GetRecord(context.Background(), other)
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
}

func TestExtractionWorker_Handle_RedeliveryShortCircuits(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	ctx := context.Background()

	_, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	before := env.record(t, leaseKey)

	outcome, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeShortCircuited, outcome)
	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, before, env.record(t, leaseKey))
	// The ready event is re-announced in case the first one was lost.
	assert.Len(t, env.publisher.Messages(), 2)
}

func TestExtractionWorker_Handle_PublishedRecordShortCircuits(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	env.records.Put(&models.MetadataRecord{Key: leaseKey, Status: models.StatusPublished, PublishedSegment: "seg-1"})

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeShortCircuited, outcome)
	assert.Equal(t, 0, engine.Calls())
	assert.Equal(t, models.StatusPublished, env.record(t, leaseKey).Status)
}

func TestExtractionWorker_Handle_TimeoutsThenSuccess(t *testing.T) {
	engine := &fakeEngine{fn: func(ctx context.Context, call int) (models.FieldMap, error) {
		if call <= 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return leaseFields(), nil
	}}
	ecfg := defaultEngineConfig()
	ecfg.CallTimeout = 20 * time.Millisecond
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), ecfg, nil, nil)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)
	assert.Equal(t, 3, engine.Calls())

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusExtracted, rec.Status)
	assert.Equal(t, 3, rec.ProcessingAttempts)
	assert.Len(t, env.publisher.Messages(), 1)
}

func TestExtractionWorker_Handle_RetriesExhausted(t *testing.T) {
	engine := &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) {
		return nil, models.Retryable(errors.New("429 resource exhausted"))
	}}
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 3, engine.Calls())

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, models.LastErrorAttemptsExhausted, rec.LastError)
	assert.Equal(t, 3, rec.ProcessingAttempts)
	assert.Empty(t, rec.ExtractedFields)
	assert.Empty(t, env.publisher.Messages())
}

func TestExtractionWorker_Handle_PermanentFailureNeverPublishes(t *testing.T) {
	engine := &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) {
		return nil, models.Permanent(errors.New("document is not a lease"))
	}}
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, engine.Calls())

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, "document is not a lease", rec.LastError)
	assert.Equal(t, 1, rec.ProcessingAttempts)
	assert.Empty(t, env.publisher.Messages())
}

func TestExtractionWorker_Handle_FailedRecordIsRetriedOnReprocess(t *testing.T) {
	engine := &fakeEngine{fn: func(_ context.Context, call int) (models.FieldMap, error) {
		if call == 1 {
			return nil, models.Permanent(errors.New("blocked"))
		}
		return leaseFields(), nil
	}}
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	ctx := context.Background()

	outcome, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome)

	evt := uploadEvent(leaseKey)
	evt.Reprocess = true
	outcome, err = env.worker.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusExtracted, rec.Status)
	assert.Equal(t, 2, rec.ProcessingAttempts)
	assert.Empty(t, rec.LastError)
}

func TestExtractionWorker_Handle_FailedRecordRedeliveryIsAcknowledged(t *testing.T) {
	engine := &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) {
		return nil, models.Permanent(errors.New("blocked"))
	}}
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	ctx := context.Background()

	_, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	before := *env.record(t, leaseKey)

	for i := 0; i < 3; i++ {
		outcome, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
		require.NoError(t, err)
		assert.Equal(t, OutcomeShortCircuited, outcome)
	}

	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, 1, env.records.Upserts())
	assert.Empty(t, env.publisher.Messages())
	rec := env.record(t, leaseKey)
	assert.Equal(t, before.ProcessingAttempts, rec.ProcessingAttempts)
	assert.Equal(t, before.LastError, rec.LastError)
}

func TestExtractionWorker_Handle_UnsupportedContentType(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)

	key := models.DocumentKey{Bucket: "bucket1", ObjectPath: "leases/a.docx", Generation: 3}
	evt := uploadEvent(key)
	evt.ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	outcome, err := env.worker.Handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, engine.Calls())

	rec := env.record(t, key)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "unsupported content type")
	assert.Equal(t, 1, rec.ProcessingAttempts)
}

func TestExtractionWorker_Handle_DeadlineWritesNothing(t *testing.T) {
	engine := blockingEngine()
	cfg := defaultWorkerConfig()
	cfg.ProcessingDeadline = 30 * time.Millisecond
	ecfg := defaultEngineConfig()
	ecfg.CallTimeout = time.Minute
	env := newExtractionEnv(t, engine, cfg, ecfg, nil, nil)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDeadlineExceeded)
	assert.Equal(t, OutcomeRetry, outcome)

	_, err = env.records.GetRecord(context.Background(), leaseKey)
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
	assert.Equal(t, 0, env.records.Upserts())
	assert.Empty(t, env.publisher.Messages())
	assert.Empty(t, env.leases.Holder(leaseKey))
}

func TestExtractionWorker_Handle_ConcurrentDeliveriesExtractOnce(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	engine := &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) {
		close(started)
		<-release
		return leaseFields(), nil
	}}
	records := memory.NewRecordStore()
	leases := memory.NewLeaseStore()
	a := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), records, leases, WithHolderID("worker-a"))
	b := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), records, leases, WithHolderID("worker-b"))
	ctx := context.Background()

	var wg sync.WaitGroup
	var outcomeA Outcome
	var errA error
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomeA, errA = a.worker.Handle(ctx, uploadEvent(leaseKey))
	}()
	<-started

	outcomeB, errB := b.worker.Handle(ctx, uploadEvent(leaseKey))
	assert.Equal(t, OutcomeRetry, outcomeB)
	assert.ErrorIs(t, errB, models.ErrLeaseHeld)

	close(release)
	wg.Wait()
	require.NoError(t, errA)
	assert.Equal(t, OutcomeExtracted, outcomeA)

	// The loser's redelivery sees the winner's record.
	outcomeB, errB = b.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, errB)
	assert.Equal(t, OutcomeShortCircuited, outcomeB)
	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, 1, records.Upserts())
}

func TestExtractionWorker_Handle_ConcurrentDeliveriesFailOnce(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	engine := &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) {
		close(started)
		<-release
		return nil, models.Permanent(errors.New("document is not a lease"))
	}}
	records := memory.NewRecordStore()
	leases := memory.NewLeaseStore()
	a := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), records, leases, WithHolderID("worker-a"))
	b := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), records, leases, WithHolderID("worker-b"))
	ctx := context.Background()

	var wg sync.WaitGroup
	var outcomeA Outcome
	var errA error
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomeA, errA = a.worker.Handle(ctx, uploadEvent(leaseKey))
	}()
	<-started

	outcomeB, errB := b.worker.Handle(ctx, uploadEvent(leaseKey))
	assert.Equal(t, OutcomeRetry, outcomeB)
	assert.ErrorIs(t, errB, models.ErrLeaseHeld)

	close(release)
	wg.Wait()
	require.NoError(t, errA)
	assert.Equal(t, OutcomeFailed, outcomeA)

	outcomeB, errB = b.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, errB)
	assert.Equal(t, OutcomeShortCircuited, outcomeB)
	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, 1, records.Upserts())

	rec, err := records.GetRecord(ctx, leaseKey)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ProcessingAttempts)
	assert.Empty(t, a.publisher.Messages())
	assert.Empty(t, b.publisher.Messages())
}

func TestExtractionWorker_Handle_OverwriteReextracts(t *testing.T) {
	calls := 0
	engine := &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) {
		calls++
		f := leaseFields()
		if calls > 1 {
			f["city"] = "Ottawa"
		}
		return f, nil
	}}
	cfg := defaultWorkerConfig()
	cfg.OverwriteExisting = true
	env := newExtractionEnv(t, engine, cfg, defaultEngineConfig(), nil, nil)
	ctx := context.Background()

	_, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	outcome, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)

	rec := env.record(t, leaseKey)
	assert.Equal(t, "Ottawa", rec.ExtractedFields["city"])
	assert.Equal(t, 2, rec.ProcessingAttempts)
	assert.Len(t, env.publisher.Messages(), 2)
}

func TestExtractionWorker_Handle_ReprocessOverridesPublished(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	env.records.Put(&models.MetadataRecord{Key: leaseKey, Status: models.StatusPublished, ProcessingAttempts: 1, CreatedAt: fixedTime.Add(-time.Hour)})

	evt := uploadEvent(leaseKey)
	evt.Reprocess = true
	outcome, err := env.worker.Handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusExtracted, rec.Status)
	assert.Equal(t, 2, rec.ProcessingAttempts)
	assert.Equal(t, fixedTime.Add(-time.Hour), rec.CreatedAt)
}

func TestExtractionWorker_Handle_StoreReadFailureRetries(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	env.records.FailGets(errors.New("firestore unavailable"))

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	assert.Equal(t, OutcomeRetry, outcome)
	assert.ErrorIs(t, err, models.ErrTransientIO)
	assert.Equal(t, 0, engine.Calls())
}

func TestExtractionWorker_Handle_PublishFailureHealsOnRedelivery(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	ctx := context.Background()
	env.publisher.FailPublish(errors.New("pubsub unavailable"))

	outcome, err := env.worker.Handle(ctx, uploadEvent(leaseKey))
	assert.Equal(t, OutcomeRetry, outcome)
	assert.ErrorIs(t, err, models.ErrTransientIO)
	assert.Equal(t, models.StatusExtracted, env.record(t, leaseKey).Status)

	env.publisher.FailPublish(nil)
	outcome, err = env.worker.Handle(ctx, uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeShortCircuited, outcome)
	assert.Equal(t, 1, engine.Calls())
	assert.Len(t, env.publisher.Messages(), 1)
}

func TestExtractionWorker_Handle_LostRaceIsAcknowledged(t *testing.T) {
	store := &conflictingStore{
		RecordStore: memory.NewRecordStore(),
		rival:       &models.MetadataRecord{Key: leaseKey, Status: models.StatusFailed, LastError: "rival"},
	}
	engine := succeedingEngine(leaseFields())
	x := NewExtractor(engine, defaultEngineConfig(), nil, nil)
	pub := memory.NewPublisher()
	w, err := NewExtractionWorker(store, memory.NewLeaseStore(), x, nil, pub, schema.LeaseV1, defaultWorkerConfig())
	require.NoError(t, err)

	outcome, err := w.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Empty(t, pub.Messages())

	rec, err := store.GetRecord(context.Background(), leaseKey)
	require.NoError(t, err)
	assert.Equal(t, "rival", rec.LastError)
}

func TestExtractionWorker_Handle_PreflightCorruptPDF(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil).withPreflight(1 << 20)
	env.objects.Put(leaseKey, []byte("this is not a pdf"))

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, engine.Calls())

	rec := env.record(t, leaseKey)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.NotContains(t, rec.LastError, "attempt(s)")
	assert.Equal(t, 1, rec.ProcessingAttempts)
}

func TestExtractionWorker_Handle_PreflightMissingGeneration(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil).withPreflight(1 << 20)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, env.record(t, leaseKey).LastError, models.ErrSourceMissing.Error())
}

func TestExtractionWorker_Handle_PreflightReadErrorRetries(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil).withPreflight(1 << 20)
	env.objects.FailReads(errors.New("connection reset"))

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	assert.Equal(t, OutcomeRetry, outcome)
	assert.ErrorIs(t, err, models.ErrTransientIO)
	assert.Equal(t, 0, env.records.Upserts())
}

func TestExtractionWorker_Handle_PreflightSkipsOversizedSources(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil).withPreflight(512)

	outcome, err := env.worker.Handle(context.Background(), uploadEvent(leaseKey))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)
	assert.Equal(t, 1, engine.Calls())
}

func TestExtractionWorker_Handle_PreflightSkipsOversizedSourcesOfUnknownSize(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil).withPreflight(512)
	env.objects.Put(leaseKey, bytes.Repeat([]byte("x"), 600))
	evt := uploadEvent(leaseKey)
	evt.Size = 0

	outcome, err := env.worker.Handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtracted, outcome)
	assert.Equal(t, 1, engine.Calls())
}

func TestExtractionWorker_HandleMessage(t *testing.T) {
	engine := succeedingEngine(leaseFields())
	env := newExtractionEnv(t, engine, defaultWorkerConfig(), defaultEngineConfig(), nil, nil)
	ctx := context.Background()

	t.Run("undecodable payload is dropped", func(t *testing.T) {
		assert.NoError(t, env.worker.HandleMessage(ctx, []byte("not json"), nil))
	})

	t.Run("non finalize notification is ignored", func(t *testing.T) {
		data := []byte(`{"bucket":"bucket1","name":"leases/a.pdf","generation":"7"}`)
		assert.NoError(t, env.worker.HandleMessage(ctx, data, map[string]string{"eventType": "OBJECT_DELETE"}))
		assert.Equal(t, 0, engine.Calls())
	})

	t.Run("finalize notification is processed", func(t *testing.T) {
		data := []byte(`{"bucket":"bucket1","name":"leases/a.pdf","generation":"7","contentType":"application/pdf","size":"1024"}`)
		require.NoError(t, env.worker.HandleMessage(ctx, data, map[string]string{"eventType": "OBJECT_FINALIZE"}))
		assert.Equal(t, 1, engine.Calls())
		assert.Equal(t, models.StatusExtracted, env.record(t, leaseKey).Status)
	})
}

func TestResolveContentType(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		contentType string
		want        string
	}{
		{name: "declared", path: "a.pdf", contentType: "application/pdf", want: "application/pdf"},
		{name: "parameters stripped", path: "a.pdf", contentType: "application/pdf; charset=binary", want: "application/pdf"},
		{name: "upper case", path: "a.pdf", contentType: "Application/PDF", want: "application/pdf"},
		{name: "octet stream falls back to extension", path: "a.pdf", contentType: "application/octet-stream", want: "application/pdf"},
		{name: "empty falls back to extension", path: "b/A.PDF", contentType: "", want: "application/pdf"},
		{name: "unknown extension", path: "a.unknownext", contentType: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := &models.DocumentEvent{
				Key:         models.DocumentKey{Bucket: "b", ObjectPath: tt.path, Generation: 1},
				ContentType: tt.contentType,
			}
			assert.Equal(t, tt.want, resolveContentType(evt))
		})
	}
}
