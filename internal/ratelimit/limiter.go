// Package ratelimit implements fixed-window request counting for the SkyLink
// admission pipeline.
//
// Two scopes are enforced on every admitted request: a per-identity window
// (default 60 requests/minute) and a global window shared by all identities
// (default 10 requests/second). Counter state lives behind the Store
// interface so single-instance deployments use the in-memory store and
// multi-instance deployments share a Redis store, without the pipeline
// knowing the difference.
//
// Fixed windows admit up to 2x the limit across a window boundary; that is a
// deliberate, documented property of the algorithm, traded for O(1) checks.
package ratelimit

import (
	"context"
	"time"
)

// GlobalKey is the sentinel store key for the global (all-identities) window.
const GlobalKey = "__global__"

// Store holds window counters keyed by identity. Implementations must make
// the window-reset check and the increment a single atomic unit: two
// concurrent callers must never both observe a stale pre-reset count.
type Store interface {
	// Incr advances the counter for key within the window beginning at
	// windowStart, resetting it first when a new window has begun, and
	// returns the post-increment count.
	Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// Result reports a rate-limit decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter counts requests per key over fixed windows.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a fixed-window Limiter.
func New(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}
}

// WithClock overrides the limiter's time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Limit returns the configured window limit.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window size.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow records one request for key and reports whether it fits within the
// current window. The increment happens unconditionally; a denied request
// still consumed its slot, matching fixed-window counting semantics.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)

	count, err := l.store.Incr(ctx, key, windowStart, l.window)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Allowed: count <= int64(l.limit),
		Limit:   l.limit,
	}
	if remaining := int64(l.limit) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = windowStart.Add(l.window).Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}
