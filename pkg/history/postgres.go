package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/event"
)

const defaultLimit = 100

// PostgresDB stores history in a postgres table. The metadata column
// is the JSON form of the event's typed metadata; decoding goes back
// through event.Event's own unmarshalling so the types round-trip.
type PostgresDB struct {
	pool *pgxpool.Pool
}

var _ DB = &PostgresDB{}

func NewPostgresDB(ctx context.Context, connString string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to history database")
	}
	db := &PostgresDB{pool: pool}
	if err := db.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *PostgresDB) ensureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id         BIGSERIAL PRIMARY KEY,
			service    TEXT        NOT NULL,
			run_id     TEXT        NOT NULL DEFAULT '',
			type       TEXT        NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at   TIMESTAMPTZ NOT NULL,
			log_level  TEXT        NOT NULL,
			message    TEXT        NOT NULL DEFAULT '',
			metadata   JSONB
		);
		CREATE INDEX IF NOT EXISTS events_service_idx ON events (service, started_at DESC);
		CREATE INDEX IF NOT EXISTS events_run_idx ON events (run_id);
	`)
	return errors.Wrap(err, "ensuring events schema")
}

func (db *PostgresDB) LogEvent(ctx context.Context, e event.Event) error {
	var metadata []byte
	if e.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return errors.Wrap(err, "encoding event metadata")
		}
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.EndedAt.IsZero() {
		e.EndedAt = e.StartedAt
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO events (service, run_id, type, started_at, ended_at, log_level, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Service, e.RunID, e.Type, e.StartedAt, e.EndedAt, e.LogLevel, e.Message, metadata)
	return errors.Wrap(err, "logging event")
}

func (db *PostgresDB) AllEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return db.query(ctx, `
		SELECT id, service, run_id, type, started_at, ended_at, log_level, message, metadata
		FROM events ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
}

func (db *PostgresDB) EventsForService(ctx context.Context, service string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return db.query(ctx, `
		SELECT id, service, run_id, type, started_at, ended_at, log_level, message, metadata
		FROM events WHERE service = $1 ORDER BY started_at DESC, id DESC LIMIT $2`, service, limit)
}

func (db *PostgresDB) EventsForRun(ctx context.Context, runID string) ([]event.Event, error) {
	return db.query(ctx, `
		SELECT id, service, run_id, type, started_at, ended_at, log_level, message, metadata
		FROM events WHERE run_id = $1 ORDER BY started_at ASC, id ASC`, runID)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) query(ctx context.Context, sql string, args ...interface{}) ([]event.Event, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			wire struct {
				ID        event.EventID   `json:"id"`
				Service   string          `json:"service"`
				RunID     string          `json:"runID,omitempty"`
				Type      string          `json:"type"`
				StartedAt time.Time       `json:"startedAt"`
				EndedAt   time.Time       `json:"endedAt"`
				LogLevel  string          `json:"logLevel"`
				Message   string          `json:"message,omitempty"`
				Metadata  json.RawMessage `json:"metadata,omitempty"`
			}
			metadata []byte
		)
		if err := rows.Scan(&wire.ID, &wire.Service, &wire.RunID, &wire.Type,
			&wire.StartedAt, &wire.EndedAt, &wire.LogLevel, &wire.Message, &metadata); err != nil {
			return nil, errors.Wrap(err, "scanning event row")
		}
		wire.Metadata = metadata

		// round-trip through JSON so metadata decodes into its typed form
		encoded, err := json.Marshal(wire)
		if err != nil {
			return nil, errors.Wrap(err, "re-encoding event row")
		}
		var e event.Event
		if err := json.Unmarshal(encoded, &e); err != nil {
			return nil, errors.Wrapf(err, "decoding event %d", wire.ID)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
