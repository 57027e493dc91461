package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no event exists for the requested key.
var ErrNotFound = errors.New("telemetry: event not found")

// Repository stores accepted telemetry events. Only events that won their
// idempotency check are written; duplicates and conflicts never reach it.
type Repository interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, aircraftID, eventID string) (*Event, error)
	List(ctx context.Context, aircraftID string, limit int) ([]*Event, error)
}

// MemoryRepository keeps events in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]*Event
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]*Event)}
}

func eventKey(aircraftID, eventID string) string {
	return aircraftID + "\x00" + eventID
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *event
	r.events[eventKey(event.AircraftID, event.EventID)] = &stored
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, aircraftID, eventID string) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventKey(aircraftID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *event
	return &out, nil
}

// List implements Repository. Events are returned newest first.
func (r *MemoryRepository) List(_ context.Context, aircraftID string, limit int) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Event
	for _, event := range r.events {
		if event.AircraftID == aircraftID {
			e := *event
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PostgresRepository persists events to PostgreSQL. Metrics are stored as
// JSONB so the schema does not churn with every new reading.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save implements Repository.
func (r *PostgresRepository) Save(ctx context.Context, event *Event) error {
	metrics, err := json.Marshal(&event.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO telemetry_events (aircraft_id, event_id, ts, metrics)
		 VALUES ($1, $2, $3, $4)`,
		event.AircraftID, event.EventID, event.TS.UTC(), metrics,
	); err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, aircraftID, eventID string) (*Event, error) {
	event := &Event{}
	var metrics []byte
	err := r.pool.QueryRow(ctx,
		`SELECT aircraft_id, event_id, ts, metrics FROM telemetry_events
		 WHERE aircraft_id = $1 AND event_id = $2`,
		aircraftID, eventID,
	).Scan(&event.AircraftID, &event.EventID, &event.TS, &metrics)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get telemetry event: %w", err)
	}
	if err := json.Unmarshal(metrics, &event.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return event, nil
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context, aircraftID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT aircraft_id, event_id, ts, metrics FROM telemetry_events
		 WHERE aircraft_id = $1 ORDER BY ts DESC LIMIT $2`,
		aircraftID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list telemetry events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		event := &Event{}
		var metrics []byte
		if err := rows.Scan(&event.AircraftID, &event.EventID, &event.TS, &metrics); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		if err := json.Unmarshal(metrics, &event.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
