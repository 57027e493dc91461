package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowCounter is the mutable state for one key. The mutex makes the
// window-reset check and the increment a single atomic unit.
type windowCounter struct {
	mu          sync.Mutex
	count       int64
	windowStart time.Time
}

// MemoryStore is an in-process Store backed by a map of per-key counters.
// Suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a MemoryStore. A background goroutine evicts
// counters idle for more than ten window lengths every five minutes; call
// Close to stop it.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*windowCounter),
		stop:     make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.evict(time.Now().Add(-10 * time.Minute))
			case <-s.stop:
				return
			}
		}
	}()

	return s
}

// Close stops the background eviction goroutine.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Incr implements Store. A cancelled context is honoured before the counter
// moves, so an abandoned request never consumes a slot; the remote stores get
// the same behaviour from their network calls.
func (s *MemoryStore) Incr(ctx context.Context, key string, windowStart time.Time, _ time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	wc, ok := s.counters[key]
	if !ok {
		wc = &windowCounter{windowStart: windowStart}
		s.counters[key] = wc
	}
	s.mu.Unlock()

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.windowStart.Before(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}
	wc.count++
	return wc.count, nil
}

// evict drops counters whose window started before cutoff.
func (s *MemoryStore) evict(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, wc := range s.counters {
		wc.mu.Lock()
		stale := wc.windowStart.Before(cutoff)
		wc.mu.Unlock()
		if stale {
			delete(s.counters, key)
		}
	}
}

// Len returns the number of tracked keys. Used by tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
