// Package memory provides in-process implementations of the pipeline's
// storage, bus and index ports. Nothing here is durable.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// RecordStore is an in-memory record store with conditional upserts.
type RecordStore struct {
	mu        sync.RWMutex
	records   map[string]*models.MetadataRecord
	getErr    error
	upsertErr error
	upserts   int
}

// NewRecordStore creates an empty record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]*models.MetadataRecord)}
}

// GetRecord returns a copy of the record for key.
func (s *RecordStore) GetRecord(_ context.Context, key models.DocumentKey) (*models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[key.String()]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// UpsertRecord stores a copy of rec if the current status equals expected.
func (s *RecordStore) UpsertRecord(_ context.Context, key models.DocumentKey, expected models.Status, rec *models.MetadataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	prior := s.records[key.String()]
	if current := models.StatusOf(prior); current != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", models.ErrStateConflict, key, current, expected)
	}
	next := rec.Clone()
	next.Key = key
	if prior != nil && !prior.CreatedAt.IsZero() {
		next.CreatedAt = prior.CreatedAt
	}
	s.records[key.String()] = next
	s.upserts++
	return nil
}

// Put stores rec unconditionally.
func (s *RecordStore) Put(rec *models.MetadataRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key.String()] = rec.Clone()
}

// ListByStatus returns copies of the records in st, ordered by key.
func (s *RecordStore) ListByStatus(_ context.Context, st models.Status, limit int) ([]*models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k, rec := range s.records {
		if rec.Status == st {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]*models.MetadataRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k].Clone())
	}
	return out, nil
}

// Upserts counts successful writes.
func (s *RecordStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// FailGets makes every read return err until cleared with nil.
func (s *RecordStore) FailGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailUpserts makes every write return err until cleared with nil.
func (s *RecordStore) FailUpserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertErr = err
}
