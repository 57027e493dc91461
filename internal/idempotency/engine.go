// Package idempotency detects duplicate and conflicting event submissions.
//
// Each ingestion is keyed by (identity, event id) and carries a fingerprint —
// the SHA-256 of the canonicalised payload. The first submission for a key
// wins; identical re-submissions are reported as duplicates and re-submissions
// with a different payload as conflicts. The check-and-insert is atomic per
// key inside the Store, so concurrent same-key submissions resolve to exactly
// one Created.
//
// Fingerprint comparison is exact: payloads differing in a single field are
// full conflicts, never merges.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Outcome classifies an ingestion attempt.
type Outcome string

const (
	// OutcomeCreated: no prior record for the key; this submission won.
	OutcomeCreated Outcome = "created"

	// OutcomeDuplicate: a prior record exists with an identical fingerprint.
	// The caller should return the original success response and issue no
	// new side effects.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeConflict: a prior record exists with a different fingerprint.
	// Permanent for the key; the caller must treat this as a data error.
	OutcomeConflict Outcome = "conflict"
)

// Record is the durable state for one idempotency key. Written once;
// never overwritten.
type Record struct {
	Identity    string
	EventID     string
	Fingerprint string
	CreatedAt   time.Time
}

// Store persists records keyed by (identity, event id). PutIfAbsent must be
// atomic per key: of any number of concurrent calls for the same key, exactly
// one inserts.
type Store interface {
	// PutIfAbsent inserts rec when no record exists for its key. It returns
	// the record now stored for the key and whether rec was the one inserted.
	PutIfAbsent(ctx context.Context, rec *Record) (*Record, bool, error)

	// Delete removes the record for the key only when its fingerprint
	// matches, so a caller can only undo its own insert. Deleting a missing
	// or differently-fingerprinted record is a no-op.
	Delete(ctx context.Context, identity, eventID, fingerprint string) error
}

// Fingerprint returns the hex-encoded SHA-256 of the canonicalised payload.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Engine resolves ingestion attempts against a Store.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an Engine backed by store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// WithClock overrides the engine's time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Check resolves one ingestion attempt. A non-nil error means the store
// failed and the attempt's outcome is unknown; callers must fail closed.
func (e *Engine) Check(ctx context.Context, identity, eventID, fingerprint string) (Outcome, error) {
	rec := &Record{
		Identity:    identity,
		EventID:     eventID,
		Fingerprint: fingerprint,
		CreatedAt:   e.now().UTC(),
	}

	stored, inserted, err := e.store.PutIfAbsent(ctx, rec)
	if err != nil {
		return "", err
	}
	if inserted {
		return OutcomeCreated, nil
	}
	if stored.Fingerprint == fingerprint {
		return OutcomeDuplicate, nil
	}
	return OutcomeConflict, nil
}

// Release undoes a Created outcome whose downstream side effect could not be
// completed, so a later retry of the same submission is admitted as Created
// again instead of being answered Duplicate for an event that was never
// stored. The fingerprint guard means only the submission that won the key
// can release it.
func (e *Engine) Release(ctx context.Context, identity, eventID, fingerprint string) error {
	return e.store.Delete(ctx, identity, eventID, fingerprint)
}
