package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentmetadataflow/internal/memory"
	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

var (
	leaseKey  = models.DocumentKey{Bucket: "bucket1", ObjectPath: "leases/a.pdf", Generation: 7}
	fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func leaseFields() models.FieldMap {
	return models.FieldMap{
		"city":              "Toronto",
		"street":            "1 King St W",
		"province":          "ON",
		"postalcode":        "M5H 1A1",
		"lease_start_date":  "2024/01/01",
		"lease_end_date":    "Not Available",
		"rent":              "2,100",
		"document_language": "English",
	}
}

func uploadEvent(key models.DocumentKey) *models.DocumentEvent {
	return &models.DocumentEvent{Key: key, ContentType: "application/pdf", Size: 1024, EventTime: fixedTime}
}

// fakeEngine runs fn for every call and counts calls.
type fakeEngine struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (models.FieldMap, error)
}

func (e *fakeEngine) Extract(ctx context.Context, _ models.SourceRef, _ *schema.Schema) (models.FieldMap, error) {
	n := int(e.calls.Add(1))
	return e.fn(ctx, n)
}

func (e *fakeEngine) Calls() int { return int(e.calls.Load()) }

func succeedingEngine(fields models.FieldMap) *fakeEngine {
	return &fakeEngine{fn: func(context.Context, int) (models.FieldMap, error) { return fields.Clone(), nil }}
}

func blockingEngine() *fakeEngine {
	return &fakeEngine{fn: func(ctx context.Context, _ int) (models.FieldMap, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func noSleep(context.Context, time.Duration) error { return nil }

type extractionEnv struct {
	worker    *ExtractionWorker
	extractor *Extractor
	engine    *fakeEngine
	records   *memory.RecordStore
	leases    *memory.LeaseStore
	publisher *memory.Publisher
	objects   *memory.ObjectStore
}

func defaultWorkerConfig() ExtractionWorkerConfig {
	return ExtractionWorkerConfig{
		TargetPathPrefix:      "leases/",
		SupportedContentTypes: []string{"application/pdf"},
		LeaseTTL:              time.Minute,
		ProcessingDeadline:    5 * time.Second,
	}
}

func defaultEngineConfig() EngineConfig {
	return EngineConfig{CallTimeout: time.Second, MaxAttempts: 3, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond}
}

// newExtractionEnv wires a worker to memory adapters. records and leases may
// be shared between workers by passing them in.
func newExtractionEnv(t *testing.T, engine *fakeEngine, cfg ExtractionWorkerConfig, ecfg EngineConfig, records *memory.RecordStore, leases *memory.LeaseStore, opts ...Option) *extractionEnv {
	t.Helper()
	if records == nil {
		records = memory.NewRecordStore()
	}
	if leases == nil {
		leases = memory.NewLeaseStore()
	}
	env := &extractionEnv{
		engine:    engine,
		records:   records,
		leases:    leases,
		publisher: memory.NewPublisher(),
		objects:   memory.NewObjectStore(),
	}
	env.extractor = NewExtractor(engine, ecfg, nil, nil)
	env.extractor.sleep = noSleep

	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	w, err := NewExtractionWorker(records, leases, env.extractor, nil, env.publisher, schema.LeaseV1, cfg, opts...)
	require.NoError(t, err)
	env.worker = w
	return env
}

func (env *extractionEnv) withPreflight(maxBytes int64) *extractionEnv {
	env.worker.preflight = NewPreflight(env.objects, maxBytes)
	return env
}

func (env *extractionEnv) record(t *testing.T, key models.DocumentKey) *models.MetadataRecord {
	t.Helper()
	rec, err := env.records.GetRecord(context.Background(), key)
	require.NoError(t, err)
	return rec
}

// conflictingStore lets another writer win just before the first upsert.
type conflictingStore struct {
	*memory.RecordStore
	once  sync.Once
	rival *models.MetadataRecord
}

func (s *conflictingStore) UpsertRecord(ctx context.Context, key models.DocumentKey, expected models.Status, rec *models.MetadataRecord) error {
	s.once.Do(func() { s.Put(s.rival) })
	return s.RecordStore.UpsertRecord(ctx, key, expected, rec)
}
