package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// created is false when the object was already there.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte, contentType string) (created bool, err error) {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if IsPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping write.", "object", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}

	// The precondition is evaluated when the upload is finalized.
	if err := writer.Close(); err != nil {
		if IsPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping write.", "object", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return true, nil
}

// StagingStore lays segments out as one object per record:
// <prefix>/<segmentID>/<recordID>.jsonl. A segment is addressed by a wildcard
// URI over its objects, so appends never rewrite an existing object.
type StagingStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

// NewStagingStore creates a staging store in bucketName under prefix.
func NewStagingStore(client *storage.Client, bucketName, prefix string) *StagingStore {
	return &StagingStore{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}
}

func (s *StagingStore) segmentPrefix(segmentID string) string {
	if s.prefix == "" {
		return segmentID + "/"
	}
	return s.prefix + "/" + segmentID + "/"
}

// AppendRecord stores line as the segment object for recordID.
func (s *StagingStore) AppendRecord(ctx context.Context, segmentID, recordID string, line []byte) (bool, error) {
	return SaveToGCSAtomically(ctx, s.bucket, s.segmentPrefix(segmentID)+recordID+".jsonl", line, "application/jsonl")
}

// SegmentURI returns the wildcard URI covering every record of the segment.
func (s *StagingStore) SegmentURI(segmentID string) string {
	return fmt.Sprintf("gs://%s/%s*.jsonl", s.bucketName, s.segmentPrefix(segmentID))
}

// ListSegments returns every segment found under the staging prefix.
func (s *StagingStore) ListSegments(ctx context.Context) ([]models.SegmentRef, error) {
	q := &storage.Query{Delimiter: "/"}
	if s.prefix != "" {
		q.Prefix = s.prefix + "/"
	}
	it := s.bucket.Objects(ctx, q)

	var refs []models.SegmentRef
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list segments in gs://%s/%s: %w", s.bucketName, q.Prefix, err)
		}
		if attrs.Prefix == "" {
			continue
		}
		id := path.Base(strings.TrimSuffix(attrs.Prefix, "/"))
		refs = append(refs, models.SegmentRef{ID: id, URI: s.SegmentURI(id)})
	}
	return refs, nil
}

// ReadSegment decodes every record staged in the segment.
func (s *StagingStore) ReadSegment(ctx context.Context, segmentID string) ([]models.BatchRecord, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.segmentPrefix(segmentID)})

	var out []models.BatchRecord
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list segment %s: %w", segmentID, err)
		}
		if !strings.HasSuffix(attrs.Name, ".jsonl") {
			continue
		}
		records, err := s.readObject(ctx, attrs.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func (s *StagingStore) readObject(ctx context.Context, name string) ([]models.BatchRecord, error) {
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()

	records, truncated, err := models.DecodeBatchRecords(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if truncated {
		slog.Warn("Segment object ends with a partial line.", "object", name)
	}
	return records, nil
}

// ObjectReader reads generation pinned source objects.
type ObjectReader struct {
	client *storage.Client
}

// NewObjectReader creates a reader over client.
func NewObjectReader(client *storage.Client) *ObjectReader {
	return &ObjectReader{client: client}
}

// ReadObject downloads at most maxBytes of the exact generation named by key.
func (r *ObjectReader) ReadObject(ctx context.Context, key models.DocumentKey, maxBytes int64) ([]byte, error) {
	obj := r.client.Bucket(key.Bucket).Object(key.ObjectPath).Generation(key.Generation)
	rc, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrSourceMissing, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer rc.Close()

	var src io.Reader = rc
	if maxBytes > 0 {
		src = io.LimitReader(rc, maxBytes)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}
