// Package history persists probe outcomes to a local SQLite database
// so repeated diagnostics against a bridge can be compared over time.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Poll outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeMalformed = "malformed"
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS polls (
		id         TEXT PRIMARY KEY,
		host       TEXT NOT NULL,
		port       INTEGER NOT NULL,
		zone       TEXT NOT NULL DEFAULT '',
		outcome    TEXT NOT NULL,
		playing    INTEGER NOT NULL DEFAULT 0,
		volume     REAL NOT NULL DEFAULT 0,
		seek       INTEGER NOT NULL DEFAULT -1,
		length     INTEGER NOT NULL DEFAULT 0,
		rtt_ms     INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polls_created_at ON polls (created_at)`,
}

// Record is one persisted poll outcome. Seek and Length keep the wire
// sentinels (-1 and 0) so a stored record reads back the way the
// bridge reported it.
type Record struct {
	ID        string
	Host      string
	Port      int
	Zone      string
	Outcome   string
	Playing   bool
	Volume    float64
	Seek      int
	Length    int
	RTTMillis int64
	CreatedAt time.Time
}

// Store implements the poll history on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error { return s.db.Close() }

// Add inserts a poll record. A missing ID gets a fresh UUID and a zero
// CreatedAt gets the current time.
func (s *Store) Add(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO polls (id, host, port, zone, outcome, playing, seek, length, volume, rtt_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Host, r.Port, r.Zone, r.Outcome, r.Playing, r.Seek, r.Length,
		r.Volume, r.RTTMillis, r.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, port, zone, outcome, playing, seek, length, volume, rtt_ms, created_at
		 FROM polls ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var records []*Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.Host, &r.Port, &r.Zone, &r.Outcome,
			&r.Playing, &r.Seek, &r.Length, &r.Volume, &r.RTTMillis, &created); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		records = append(records, &r)
	}
	return records, rows.Err()
}
