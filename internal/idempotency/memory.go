package idempotency

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Suitable for tests and
// single-instance deployments; records live until the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	records map[memoryKey]*Record
}

type memoryKey struct {
	identity string
	eventID  string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[memoryKey]*Record)}
}

// PutIfAbsent implements Store. A cancelled context is honoured before the
// record is written, so an abandoned request never commits; the remote stores
// get the same behaviour from their network calls.
func (s *MemoryStore) PutIfAbsent(ctx context.Context, rec *Record) (*Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	key := memoryKey{identity: rec.Identity, eventID: rec.EventID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		return existing, false, nil
	}
	stored := *rec
	s.records[key] = &stored
	return &stored, true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, identity, eventID, fingerprint string) error {
	key := memoryKey{identity: identity, eventID: eventID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && existing.Fingerprint == fingerprint {
		delete(s.records, key)
	}
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
