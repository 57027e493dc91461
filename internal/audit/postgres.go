package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all gateway instances.
const advisoryLockKey = int64(7_420_118_305)

// PostgresTrail persists the hash-chained audit trail to a PostgreSQL
// database. It implements the Trail interface.
type PostgresTrail struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresTrail creates a PostgresTrail backed by the given connection pool.
func NewPostgresTrail(pool *pgxpool.Pool, logger *zap.Logger) *PostgresTrail {
	return &PostgresTrail{pool: pool, logger: logger}
}

// Append implements Trail.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new entry hash, and inserts it — all within a single transaction.
func (t *PostgresTrail) Append(ctx context.Context, event, actor, resource string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dataHash := sha256Sum(payloadJSON)

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is automatically released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	// Read the current tail of the chain. An empty table means the trail was
	// never bootstrapped (e.g. the database predates the seeded migration), so
	// the genesis entry is written here, inside the same transaction.
	var prevIdx int
	var prevHash string
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_trail ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx,
			`INSERT INTO audit_trail (idx, timestamp, event, actor, resource, data_hash, prev_hash, hash)
			 VALUES (0, $1, 'genesis', 'skylink-system', '', $2, $2, $2)`,
			time.Now().UTC(), GenesisHash,
		); err != nil {
			return nil, fmt.Errorf("bootstrap genesis entry: %w", err)
		}
		prevIdx, prevHash = 0, GenesisHash
	case err != nil:
		return nil, fmt.Errorf("read trail tail: %w", err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: now,
		Event:     event,
		Actor:     actor,
		Resource:  resource,
		DataHash:  dataHash,
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_trail (idx, timestamp, event, actor, resource, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.Event,
		entry.Actor, entry.Resource, entry.DataHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert trail entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit trail tx: %w", err)
	}

	t.logger.Debug("audit trail entry appended",
		zap.Int("idx", entry.Index),
		zap.String("event", entry.Event),
		zap.String("actor", entry.Actor),
	)
	return entry, nil
}

// Get implements Trail.
func (t *PostgresTrail) Get(ctx context.Context, index int) (*Entry, error) {
	entry := &Entry{}
	if err := t.pool.QueryRow(ctx,
		`SELECT idx, timestamp, event, actor, resource, data_hash, prev_hash, hash
		 FROM audit_trail WHERE idx = $1`, index,
	).Scan(
		&entry.Index, &entry.Timestamp, &entry.Event,
		&entry.Actor, &entry.Resource, &entry.DataHash,
		&entry.PrevHash, &entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("get trail entry %d: %w", index, err)
	}
	return entry, nil
}

// Len implements Trail.
func (t *PostgresTrail) Len(ctx context.Context) (int, error) {
	var n int
	if err := t.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_trail").Scan(&n); err != nil {
		return 0, fmt.Errorf("count trail entries: %w", err)
	}
	return n, nil
}

// Verify implements Trail. It streams all rows ordered by idx and validates
// the hash chain. O(n) in trail length; may be slow for very large trails.
func (t *PostgresTrail) Verify(ctx context.Context) error {
	rows, err := t.pool.Query(ctx,
		`SELECT idx, timestamp, event, actor, resource, data_hash, prev_hash, hash
		 FROM audit_trail ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query trail: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr := &Entry{}
		if err := rows.Scan(
			&curr.Index, &curr.Timestamp, &curr.Event,
			&curr.Actor, &curr.Resource, &curr.DataHash,
			&curr.PrevHash, &curr.Hash,
		); err != nil {
			return fmt.Errorf("scan trail row: %w", err)
		}

		if prev == nil {
			// Validate genesis: hash must be the well-known constant.
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}

		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Trail.
func (t *PostgresTrail) Root(ctx context.Context) (string, error) {
	var hash string
	if err := t.pool.QueryRow(ctx,
		"SELECT hash FROM audit_trail ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get trail root: %w", err)
	}
	return hash, nil
}
