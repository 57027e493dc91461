// Package audit records security-relevant events for the SkyLink gateway.
//
// Every admission outcome (authentication, cross-validation, authorization,
// rate limiting, telemetry ingestion) is reported here. Events are written to
// a structured zap log and, optionally, appended to a tamper-evident
// hash-chained trail.
//
// The trail begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the SHA-256 of
// its predecessor, making any tampering detectable via Verify.
//
// Two implementations of the Trail interface are provided:
//   - MemoryTrail: in-process, for testing and single-instance deployments.
//   - PostgresTrail: durable, for production use.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// It serves as the trust anchor of the chain; all subsequent entry hashes
// chain from this constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single persisted record in the audit trail.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // EventType, or "genesis"
	Actor     string    `json:"actor"` // verified identity or "skylink-system"
	Resource  string    `json:"resource"`
	DataHash  string    `json:"data_hash"` // SHA-256 of the serialized Event
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Trail is the interface for the append-only audit chain.
type Trail interface {
	// Append adds a new entry chained to the previous one.
	// payload is JSON-marshalled and its SHA-256 is stored as DataHash.
	Append(ctx context.Context, event, actor, resource string, payload any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Event, e.Actor, e.Resource, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
