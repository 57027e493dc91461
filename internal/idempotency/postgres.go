package idempotency

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in PostgreSQL. Uniqueness of
// (identity, event_id) is enforced by the table's primary key, so PutIfAbsent
// is atomic across any number of gateway instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// PutIfAbsent implements Store. The insert relies on ON CONFLICT DO NOTHING;
// a losing writer reads the winning record back.
func (s *PostgresStore) PutIfAbsent(ctx context.Context, rec *Record) (*Record, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_records (identity, event_id, fingerprint, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity, event_id) DO NOTHING`,
		rec.Identity, rec.EventID, rec.Fingerprint, rec.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert idempotency record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return rec, true, nil
	}

	existing := &Record{Identity: rec.Identity, EventID: rec.EventID}
	if err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, created_at FROM idempotency_records
		 WHERE identity = $1 AND event_id = $2`,
		rec.Identity, rec.EventID,
	).Scan(&existing.Fingerprint, &existing.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("read idempotency record: %w", err)
	}
	return existing, false, nil
}

// Delete implements Store. The fingerprint condition makes the removal a
// single atomic statement.
func (s *PostgresStore) Delete(ctx context.Context, identity, eventID, fingerprint string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_records
		 WHERE identity = $1 AND event_id = $2 AND fingerprint = $3`,
		identity, eventID, fingerprint,
	); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}
