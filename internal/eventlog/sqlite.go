package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a SQLite table so cursors survive
// restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps id order and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and migrates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate audit log: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY,
		scope TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	last, err := s.LastID(ctx)
	if err != nil {
		return err
	}
	if e.ID <= last {
		return ErrOutOfOrder
	}

	query := `INSERT INTO audit_events (id, scope, subject_id, correlation_id, type, message, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		int64(e.ID), string(e.Scope), e.SubjectID, e.CorrelationID, e.Type, e.Message,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Since(ctx context.Context, cursor uint64, limit int) ([]Entry, error) {
	query := `
	SELECT id, scope, subject_id, correlation_id, type, message, timestamp
	FROM audit_events
	WHERE id > ?
	ORDER BY id ASC`
	args := []any{int64(cursor)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			id    int64
			scope string
			ts    string
			e     Entry
		)
		if err := rows.Scan(&id, &scope, &e.SubjectID, &e.CorrelationID, &e.Type, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit event %d timestamp: %w", id, err)
		}
		e.ID = uint64(id)
		e.Scope = Scope(scope)
		e.Timestamp = at
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastID(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM audit_events`).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last audit id: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
