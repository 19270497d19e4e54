package cache

import "sync"

// MemoryStore keeps records in a map. Stored records are copied so callers
// cannot mutate them in place.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]CompileRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]CompileRecord)}
}

func (s *MemoryStore) Get(key string) (*CompileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Put(rec *CompileRecord) error {
	s.mu.Lock()
	s.records[rec.Key] = *rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }
