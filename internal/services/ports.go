package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

// RecordStore is the durable keyed store holding one MetadataRecord per document.
type RecordStore interface {
	// GetRecord returns models.ErrRecordNotFound when no record exists.
	GetRecord(ctx context.Context, key models.DocumentKey) (*models.MetadataRecord, error)
	// UpsertRecord writes rec only if the persisted status equals expected
	// (models.StatusNew for an absent record). It returns
	// models.ErrStateConflict otherwise.
	UpsertRecord(ctx context.Context, key models.DocumentKey, expected models.Status, rec *models.MetadataRecord) error
}

// LeaseStore grants short lived exclusive extraction rights per key.
type LeaseStore interface {
	// Acquire returns models.ErrLeaseHeld if another holder owns an unexpired lease.
	Acquire(ctx context.Context, key models.DocumentKey, holder string, ttl time.Duration) error
	Release(ctx context.Context, key models.DocumentKey, holder string) error
}

// StagingStore is the append target for serialized batch records.
type StagingStore interface {
	// AppendRecord writes one line for recordID into the segment. created is
	// false when the record was already present in that segment.
	AppendRecord(ctx context.Context, segmentID, recordID string, line []byte) (created bool, err error)
	// SegmentURI is the reference handed to the index for a segment.
	SegmentURI(segmentID string) string
}

// ExtractionEngine is the external model: document reference and schema in,
// structured fields out. Errors should be classified with models.Retryable
// or models.Permanent; unclassified errors are treated as retryable.
type ExtractionEngine interface {
	Extract(ctx context.Context, src models.SourceRef, sch *schema.Schema) (models.FieldMap, error)
}

// IndexNotifier triggers ingestion of a segment. Implementations must be safe
// to re-trigger and must dedupe on document ID.
type IndexNotifier interface {
	NotifyNewSegment(ctx context.Context, ref models.SegmentRef) error
}

// Publisher sends a message to one bus topic and returns its server ID once
// the publish is confirmed.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// ObjectReader fetches a generation pinned source object.
type ObjectReader interface {
	ReadObject(ctx context.Context, key models.DocumentKey, maxBytes int64) ([]byte, error)
}
