package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store persists actuator transitions.
type Store struct {
	db *sql.DB
}

// EventRecord is one row of the actuator log.
type EventRecord struct {
	Timestamp int64 // unix seconds
	Source    string
	State     string
	Ack       string
	Result    string
}

// Open opens the database and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Performance tuning
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS actuator_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		source TEXT NOT NULL,
		state TEXT NOT NULL,
		ack TEXT NOT NULL,
		result TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON actuator_log(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint forces a WAL checkpoint and truncates the WAL file.
func (s *Store) Checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// InsertEvent writes a record to the DB.
func (s *Store) InsertEvent(r EventRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO actuator_log (timestamp, source, state, ack, result) VALUES (?, ?, ?, ?, ?)`,
		r.Timestamp, r.Source, r.State, r.Ack, r.Result,
	)
	return err
}

// GetHistory returns records between start and end timestamps, oldest first.
func (s *Store) GetHistory(start, end int64) ([]EventRecord, error) {
	rows, err := s.db.Query(`SELECT timestamp, source, state, ack, result
	          FROM actuator_log
	          WHERE timestamp BETWEEN ? AND ?
	          ORDER BY timestamp ASC, id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.Timestamp, &r.Source, &r.State, &r.Ack, &r.Result); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetDistinctDates returns the YYYY-MM-DD days present in the DB, newest first.
func (s *Store) GetDistinctDates() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT date(timestamp, 'unixepoch', 'localtime') as day FROM actuator_log ORDER BY day DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// PruneOldEvents keeps the last minDays recorded days and deletes
// everything older. Days without events do not count.
func (s *Store) PruneOldEvents(minDays int) error {
	if minDays <= 0 {
		return nil // Keep everything
	}

	dates, err := s.GetDistinctDates()
	if err != nil {
		return fmt.Errorf("failed to query distinct days: %w", err)
	}
	if len(dates) <= minDays {
		return nil
	}

	oldestDayToKeep := dates[minDays-1]
	if _, err := s.db.Exec(
		`DELETE FROM actuator_log WHERE date(timestamp, 'unixepoch', 'localtime') < ?`,
		oldestDayToKeep,
	); err != nil {
		return fmt.Errorf("failed to prune old records: %w", err)
	}
	return nil
}
