/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultListLimit is used by List when no positive limit is given.
const DefaultListLimit = 100

// Fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

var migrations = []string{`
	CREATE TABLE IF NOT EXISTS recordings (
		session_id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		identity TEXT NOT NULL,
		job_id TEXT,
		storage_key TEXT,
		state TEXT NOT NULL,
		error TEXT,
		started_at TEXT,
		ended_at TEXT NOT NULL
	);
`, `
	CREATE INDEX IF NOT EXISTS recordings_ended_at ON recordings (ended_at);
`}

// Record is a finished recording session.
type Record struct {
	SessionID string     `json:"session_id"`
	Room      string     `json:"room"`
	Identity  string     `json:"identity"`
	JobID     string     `json:"job_id,omitempty"`
	Key       string     `json:"key,omitempty"`
	State     string     `json:"state"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time  `json:"ended_at"`
}

// Store persists records in a SQLite database.
type Store struct {
	pool   *sqlitemigration.Pool
	logger logrus.FieldLogger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger logrus.FieldLogger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("could not create intermediate folders: %w", err)
	}

	store := &Store{
		logger: logger.WithField("database", path),
	}
	store.pool = sqlitemigration.NewPool(
		filepath.Clean(path),
		sqlitemigration.Schema{
			Migrations: migrations,
		},
		sqlitemigration.Options{
			Flags: sqlite.OpenReadWrite | sqlite.OpenCreate,
			PrepareConn: func(conn *sqlite.Conn) error {
				return sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = WAL;", nil)
			},
			OnError: func(err error) {
				store.logger.WithError(err).Errorln("could not migrate history database")
			},
		})

	// Migrations run on first use.
	conn, err := store.pool.Get(ctx)
	if err != nil {
		store.pool.Close()
		return nil, fmt.Errorf("could not open connection to database: %w", err)
	}
	store.pool.Put(conn)

	return store, nil
}

// Save inserts or replaces the record with the same session id.
func (store *Store) Save(ctx context.Context, record *Record) error {
	conn, err := store.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("could not get connection from database: %w", err)
	}
	defer store.pool.Put(conn)

	var startedAt any
	if record.StartedAt != nil {
		startedAt = formatTime(*record.StartedAt)
	}

	err = sqlitex.Execute(conn, `
		INSERT OR REPLACE INTO recordings (
			session_id,
			room,
			identity,
			job_id,
			storage_key,
			state,
			error,
			started_at,
			ended_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?
		);`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.SessionID,
				record.Room,
				record.Identity,
				record.JobID,
				record.Key,
				record.State,
				record.Error,
				startedAt,
				formatTime(record.EndedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("could not save recording: %w", err)
	}

	return nil
}

// List returns up to limit records, most recently ended first.
func (store *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	conn, err := store.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get connection from database: %w", err)
	}
	defer store.pool.Put(conn)

	records := make([]*Record, 0)
	err = sqlitex.Execute(conn, `
		SELECT session_id, room, identity, job_id, storage_key, state, error, started_at, ended_at
		FROM recordings
		ORDER BY ended_at DESC, session_id ASC
		LIMIT ?;`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record := &Record{
					SessionID: stmt.ColumnText(0),
					Room:      stmt.ColumnText(1),
					Identity:  stmt.ColumnText(2),
					JobID:     stmt.ColumnText(3),
					Key:       stmt.ColumnText(4),
					State:     stmt.ColumnText(5),
					Error:     stmt.ColumnText(6),
				}
				if stmt.ColumnType(7) != sqlite.TypeNull {
					startedAt, parseErr := parseTime(stmt.ColumnText(7))
					if parseErr != nil {
						return parseErr
					}
					record.StartedAt = &startedAt
				}
				endedAt, parseErr := parseTime(stmt.ColumnText(8))
				if parseErr != nil {
					return parseErr
				}
				record.EndedAt = endedAt
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("could not list recordings: %w", err)
	}

	return records, nil
}

// Close closes all database connections.
func (store *Store) Close() error {
	return store.pool.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return t, fmt.Errorf("could not parse time '%s': %w", s, err)
	}
	return t, nil
}
