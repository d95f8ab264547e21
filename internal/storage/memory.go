package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory ObjectStore for tests.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailDownload and FailUpload, when set, are returned by the
	// corresponding operation instead of touching the map.
	FailDownload error
	FailUpload   error
}

// NewMemStore creates an empty in-memory object store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

var _ ObjectStore = (*MemStore)(nil)

func (s *MemStore) Download(_ context.Context, bucket, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailDownload != nil {
		return nil, s.FailDownload
	}
	data, ok := s.objects[bucket+"/"+path]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Upload(_ context.Context, bucket, path string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpload != nil {
		return s.FailUpload
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[bucket+"/"+path] = stored
	return nil
}

// Put seeds an object directly, for test setup. The data is copied so
// the caller may reuse the buffer.
func (s *MemStore) Put(bucket, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[bucket+"/"+path] = stored
}

// Len reports how many objects are stored.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
