// Package recorder persists processed note events to SQLite for
// diagnostics. Recording is optional: the mapper works identically with
// or without a recorder attached, and a recording failure never blocks
// event processing.
package recorder

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Event is one processed (status, note, velocity) triple and its outcome.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Status    uint8     `json:"status"`
	Note      uint8     `json:"note"`
	Velocity  uint8     `json:"velocity"`
	Handled   bool      `json:"handled"`
	PinMask   uint16    `json:"pin_mask"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] status=0x%02X note=%d vel=%d handled=%v mask=0x%04X",
		e.Timestamp.Format(time.RFC3339), e.Status, e.Note, e.Velocity, e.Handled, e.PinMask)
}

// Recorder is an append-only event log in a SQLite database. Each process
// run gets its own session ID so overlapping histories can be told apart.
type Recorder struct {
	db        *sql.DB
	sessionID string
}

// Open opens (creating if needed) the database at path and applies any
// pending schema migrations.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{db: db, sessionID: uuid.NewString()}
	log.Printf("recorder: session %s logging to %s", r.sessionID, path)
	return r, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SessionID returns this run's session identifier.
func (r *Recorder) SessionID() string { return r.sessionID }

// RecordEvent appends one processed event.
func (r *Recorder) RecordEvent(status, note, velocity uint8, handled bool, pinMask uint16) error {
	_, err := r.db.Exec(
		`INSERT INTO note_events (session_id, status, note, velocity, handled, pin_mask)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.sessionID, status, note, velocity, handled, pinMask,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (r *Recorder) RecentEvents(limit int) ([]Event, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, status, note, velocity, handled, pin_mask, created_at
		 FROM note_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Status, &e.Note, &e.Velocity,
			&e.Handled, &e.PinMask, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionEventCount returns the number of events recorded this session.
func (r *Recorder) SessionEventCount() (int64, error) {
	var n int64
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM note_events WHERE session_id = ?`, r.sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count session events: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
