package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// ObjectStore serves source object bytes by exact generation.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	err     error
}

// NewObjectStore creates an empty object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

// Put stores data for key.
func (s *ObjectStore) Put(key models.DocumentKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key.String()] = append([]byte(nil), data...)
}

// ReadObject returns at most maxBytes of the object.
func (s *ObjectStore) ReadObject(_ context.Context, key models.DocumentKey, maxBytes int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.objects[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSourceMissing, key)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		data = data[:maxBytes]
	}
	return append([]byte(nil), data...), nil
}

// FailReads makes every read return err until cleared with nil.
func (s *ObjectStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
