package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"time"
)

// Status is the lifecycle state of a document's metadata record.
type Status string

const (
	// StatusNew means no record has been persisted for the key yet.
	StatusNew Status = "NEW"
	// StatusExtracting is held in memory while the engine runs. It is never persisted.
	StatusExtracting Status = "EXTRACTING"
	StatusExtracted  Status = "EXTRACTED"
	StatusFailed     Status = "FAILED"
	StatusPublished  Status = "PUBLISHED"
)

// AtLeastExtracted reports whether s is EXTRACTED or a later state.
func (s Status) AtLeastExtracted() bool {
	return s == StatusExtracted || s == StatusPublished
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusExtracting, StatusExtracted, StatusFailed, StatusPublished:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from s to next.
// FAILED re-enters extraction; PUBLISHED may be re-extracted when overwriting.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusNew, StatusFailed:
		return next == StatusExtracting || next == StatusExtracted || next == StatusFailed
	case StatusExtracting:
		return next == StatusExtracted || next == StatusFailed
	case StatusExtracted:
		return next == StatusPublished || next == StatusExtracted || next == StatusFailed
	case StatusPublished:
		return next == StatusExtracted || next == StatusFailed
	}
	return false
}

// DocumentKey identifies one immutable upload. A new generation of the same
// object path is a different document.
type DocumentKey struct {
	Bucket     string `firestore:"bucket" json:"bucket"`
	ObjectPath string `firestore:"objectPath" json:"objectPath"`
	Generation int64  `firestore:"generation" json:"generation"`
}

// String renders the key as bucket/path#generation.
func (k DocumentKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Bucket, k.ObjectPath, k.Generation)
}

// ID is the storage safe identifier of the key. It is used as the Firestore
// document ID, the staging object name and the index document ID.
func (k DocumentKey) ID() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:20])
}

// Validate checks that every identity component is present.
func (k DocumentKey) Validate() error {
	if k.Bucket == "" || k.ObjectPath == "" {
		return fmt.Errorf("%w: document key requires bucket and object path, got %q", ErrInvalidEvent, k.String())
	}
	if k.Generation <= 0 {
		return fmt.Errorf("%w: document key %q requires a positive generation", ErrInvalidEvent, k.String())
	}
	return nil
}

// SourceURI is the gs:// location of the source object.
func (k DocumentKey) SourceURI() string {
	return fmt.Sprintf("gs://%s/%s", k.Bucket, k.ObjectPath)
}

// BrowserURL is the authenticated console link to the source object.
func (k DocumentKey) BrowserURL() string {
	return fmt.Sprintf("https://storage.cloud.google.com/%s/%s", k.Bucket, k.ObjectPath)
}

// FileName is the last path element of the object.
func (k DocumentKey) FileName() string {
	return path.Base(k.ObjectPath)
}

// GenerationString formats the generation the way GCS does on the wire.
func (k DocumentKey) GenerationString() string {
	return strconv.FormatInt(k.Generation, 10)
}

// FieldMap holds schema-defined extracted values keyed by field name.
type FieldMap map[string]any

// Clone returns a shallow copy of the map.
func (m FieldMap) Clone() FieldMap {
	if m == nil {
		return nil
	}
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DocumentEvent is the "document uploaded" fact delivered by the object store.
type DocumentEvent struct {
	Key         DocumentKey
	ContentType string
	Size        int64
	EventTime   time.Time
	// Reprocess is set by operator-issued events to force re-extraction.
	Reprocess bool
}

// SourceRef points at a document's storage location. It never carries content.
type SourceRef struct {
	URI      string
	MIMEType string
}

// MetadataRecord is the one durable record kept per document key.
type MetadataRecord struct {
	Key                DocumentKey `firestore:"documentKey"`
	Status             Status      `firestore:"status"`
	ExtractedFields    FieldMap    `firestore:"extractedFields,omitempty"`
	SourceRef          string      `firestore:"sourceRef"`
	ContentType        string      `firestore:"contentType,omitempty"`
	SchemaID           string      `firestore:"schemaId,omitempty"`
	PageCount          int         `firestore:"pageCount,omitempty"`
	ProcessingAttempts int         `firestore:"processingAttempts"`
	LastError          string      `firestore:"lastError,omitempty"`
	PublishedSegment   string      `firestore:"publishedSegment,omitempty"`
	CreatedAt          time.Time   `firestore:"createdAt"`
	UpdatedAt          time.Time   `firestore:"updatedAt"`
}

// Clone returns a copy that does not share the field map.
func (r *MetadataRecord) Clone() *MetadataRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ExtractedFields = r.ExtractedFields.Clone()
	return &c
}

// StatusOf returns the persisted status of r, or StatusNew when r is nil.
func StatusOf(r *MetadataRecord) Status {
	if r == nil {
		return StatusNew
	}
	return r.Status
}

// SegmentRef addresses one staging segment handed to the index.
type SegmentRef struct {
	ID  string
	URI string
}
