// Package stats persists per-suite durations between runs. The store is
// read once at startup to order the initial queue and written once at
// shutdown with the run's observed durations.
package stats

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SuiteTime is one recorded duration.
type SuiteTime struct {
	Name            string
	Path            string
	DurationSeconds float64
}

// Store wraps the SQLite connection holding suite durations.
type Store struct {
	conn *sql.DB
}

// Open creates or opens the stats database at the given path, enabling WAL
// mode and running migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS suite_times (
    name              TEXT NOT NULL,
    path              TEXT NOT NULL,
    duration_seconds  REAL NOT NULL,
    PRIMARY KEY (name, path)
);
`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate stats db: %w", err)
	}
	return nil
}

// Load returns all recorded durations, longest first — the order the
// initial queue uses.
func (s *Store) Load() ([]SuiteTime, error) {
	rows, err := s.conn.Query(
		"SELECT name, path, duration_seconds FROM suite_times ORDER BY duration_seconds DESC, name")
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	defer rows.Close()

	var times []SuiteTime
	for rows.Next() {
		var t SuiteTime
		if err := rows.Scan(&t.Name, &t.Path, &t.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// Save upserts the run's observed durations, overwriting any stored value
// for the same suite identity.
func (s *Store) Save(times []SuiteTime) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO suite_times (name, path, duration_seconds) VALUES (?, ?, ?)
ON CONFLICT (name, path) DO UPDATE SET duration_seconds = excluded.duration_seconds`)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	defer stmt.Close()

	for _, t := range times {
		if _, err := stmt.Exec(t.Name, t.Path, t.DurationSeconds); err != nil {
			return fmt.Errorf("save stats for %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}
