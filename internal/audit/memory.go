package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryTrail is an in-memory, thread-safe Trail implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryTrail struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryTrail creates a MemoryTrail initialised with the canonical genesis
// entry. The genesis entry is at index 0 and its hash is GenesisHash.
func NewMemoryTrail() *MemoryTrail {
	t := &MemoryTrail{}
	genesis := &Entry{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Event:     "genesis",
		Actor:     "skylink-system",
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // genesis hash is the well-known constant, not computed
	}
	t.entries = append(t.entries, genesis)
	return t
}

// Append implements Trail.
func (t *MemoryTrail) Append(_ context.Context, event, actor, resource string, payload any) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dataHash := sha256Sum(payloadJSON)
	prev := t.entries[len(t.entries)-1]

	entry := &Entry{
		Index:     len(t.entries),
		Timestamp: time.Now().UTC(),
		Event:     event,
		Actor:     actor,
		Resource:  resource,
		DataHash:  dataHash,
		PrevHash:  prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	t.entries = append(t.entries, entry)
	return entry, nil
}

// Get implements Trail.
func (t *MemoryTrail) Get(_ context.Context, index int) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return t.entries[index], nil
}

// Len implements Trail.
func (t *MemoryTrail) Len(_ context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries), nil
}

// Verify implements Trail. It walks the chain and checks that all hashes
// are consistent. The genesis entry (index 0) is validated against GenesisHash.
func (t *MemoryTrail) Verify(_ context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, curr := range t.entries {
		if i == 0 {
			// Genesis: must equal the well-known constant.
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}

		prev := t.entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}

// Root implements Trail.
func (t *MemoryTrail) Root(_ context.Context) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return "", nil
	}
	return t.entries[len(t.entries)-1].Hash, nil
}
