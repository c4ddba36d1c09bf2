package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// StagingStore keeps segments as maps of record ID to line.
type StagingStore struct {
	mu        sync.RWMutex
	segments  map[string]map[string][]byte
	appendErr error
}

// NewStagingStore creates an empty staging store.
func NewStagingStore() *StagingStore {
	return &StagingStore{segments: make(map[string]map[string][]byte)}
}

// AppendRecord stores line unless recordID is already in the segment.
func (s *StagingStore) AppendRecord(_ context.Context, segmentID, recordID string, line []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return false, s.appendErr
	}
	seg, ok := s.segments[segmentID]
	if !ok {
		seg = make(map[string][]byte)
		s.segments[segmentID] = seg
	}
	if _, exists := seg[recordID]; exists {
		return false, nil
	}
	seg[recordID] = bytes.Clone(line)
	return true, nil
}

// SegmentURI returns a mem:// reference to the segment.
func (s *StagingStore) SegmentURI(segmentID string) string {
	return "mem://staging/" + segmentID + "/*.jsonl"
}

// Segments lists segment IDs in order.
func (s *StagingStore) Segments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.segments))
	for id := range s.segments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListSegments returns references to every segment.
func (s *StagingStore) ListSegments(_ context.Context) ([]models.SegmentRef, error) {
	ids := s.Segments()
	refs := make([]models.SegmentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, models.SegmentRef{ID: id, URI: s.SegmentURI(id)})
	}
	return refs, nil
}

// ReadSegment decodes the segment's records ordered by record ID.
func (s *StagingStore) ReadSegment(_ context.Context, segmentID string) ([]models.BatchRecord, error) {
	s.mu.RLock()
	seg := s.segments[segmentID]
	ids := make([]string, 0, len(seg))
	for id := range seg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var buf bytes.Buffer
	for _, id := range ids {
		buf.Write(seg[id])
	}
	s.mu.RUnlock()

	records, _, err := models.DecodeBatchRecords(&buf)
	return records, err
}

// RecordCount counts the records across all segments.
func (s *StagingStore) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, seg := range s.segments {
		n += len(seg)
	}
	return n
}

// FailAppends makes every append return err until cleared with nil.
func (s *StagingStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}
