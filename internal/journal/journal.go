// Package journal keeps an audit trail of controller events in SQLite.
// It is write-mostly history for the status page; nothing is restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sweeney/humidity-fan/internal/logic"
)

const sqliteDriverName = "sqlite"

// timeLayout sorts lexically in occurrence order.
const timeLayout = "2006-01-02 15:04:05.000"

const schemaFanEvents = `
CREATE TABLE IF NOT EXISTS fan_events (
    id TEXT PRIMARY KEY,
    occurred_at TEXT NOT NULL,
    type TEXT NOT NULL,
    state TEXT NOT NULL,
    differential REAL,
    timer TEXT,
    entity TEXT,
    detail TEXT
);
`

const indexFanEventsOccurred = `
CREATE INDEX IF NOT EXISTS idx_fan_events_occurred_at ON fan_events (occurred_at);
`

const insertEvent = `
		INSERT INTO fan_events (id, occurred_at, type, state, differential, timer, entity, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

const selectRecent = `
		SELECT id, occurred_at, type, state, differential, timer, entity, detail
		FROM fan_events
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?
	`

// DefaultLimit caps Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

// Entry is one journaled event.
type Entry struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	Type         string    `json:"type"`
	State        string    `json:"state"`
	Differential *float64  `json:"differential,omitempty"`
	Timer        string    `json:"timer,omitempty"`
	Entity       string    `json:"entity,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Journal stores events in a SQLite table.
type Journal struct {
	db *sql.DB
}

// New wraps an open database. The schema must already exist.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Open opens or creates the SQLite file at path and ensures the schema exists.
func Open(path string) (*Journal, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return New(db), nil
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaFanEvents, indexFanEventsOccurred} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

// Append inserts e under a fresh id.
func (j *Journal) Append(ctx context.Context, e logic.Event) error {
	occurred := e.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var diff sql.NullFloat64
	if e.HasDifferential {
		diff = sql.NullFloat64{Float64: e.Differential, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, insertEvent,
		uuid.NewString(),
		occurred.UTC().Format(timeLayout),
		string(e.Type),
		string(e.State),
		diff,
		nullString(e.Timer),
		nullString(e.Entity),
		nullString(e.Detail),
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := j.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                     Entry
			occurred              string
			diff                  sql.NullFloat64
			timer, entity, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &occurred, &e.Type, &e.State, &diff, &timer, &entity, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		t, err := time.ParseInLocation(timeLayout, occurred, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad occurred_at %q: %w", e.ID, occurred, err)
		}
		e.OccurredAt = t
		if diff.Valid {
			d := diff.Float64
			e.Differential = &d
		}
		e.Timer = timer.String
		e.Entity = entity.String
		e.Detail = detail.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
