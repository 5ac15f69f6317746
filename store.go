package pinvault

import (
	"sync"
)

// RecordStore is the opaque key-value record store owned by the host
// application. The backup core reads and writes records only through
// this interface and never keeps them beyond a single operation.
type RecordStore interface {
	// GetAll returns a snapshot of every record keyed by id. Mutating
	// the returned map or records must not affect the store.
	GetAll() (map[string]Record, error)

	// Put stores the record under its id. The returned flag reports
	// whether an existing record was replaced.
	Put(record Record) (replaced bool, err error)

	// Delete removes the record with the given id. The returned flag
	// reports whether a record existed.
	Delete(id string) (existed bool, err error)
}

// MemoryStore is an in-process RecordStore. Host applications embed
// their own persistent store; this one backs tests and the maintenance
// CLI. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) GetAll() (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = *rec.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Put(record Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, replaced := s.records[record.ID]
	s.records[record.ID] = *record.Clone()
	return replaced, nil
}

func (s *MemoryStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.records[id]
	delete(s.records, id)
	return existed, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
