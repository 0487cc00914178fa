package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/claudebot/internal/domain"
	"github.com/ashureev/claudebot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a Backend keeping session records in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_records (
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		cwd TEXT NOT NULL,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_session_records_order ON session_records(user_id, position);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Read loads every record grouped by user in stored order.
func (s *SQLiteStore) Read(ctx context.Context) (domain.SessionStore, error) {
	query := `
		SELECT user_id, session_id, prompt, cwd, created_at, status
		FROM session_records ORDER BY user_id, position`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session record rows", "error", closeErr)
		}
	}()

	sessions := domain.SessionStore{}
	for rows.Next() {
		var userID, createdAt, status string
		var rec domain.SessionRecord
		if err := rows.Scan(&userID, &rec.SessionID, &rec.Prompt, &rec.CWD, &createdAt, &status); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", rec.SessionID, err)
		}
		rec.Status = domain.Status(status)
		sessions[userID] = append(sessions[userID], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session records: %w", err)
	}
	return sessions, nil
}

// Write replaces the table contents in a single transaction.
func (s *SQLiteStore) Write(ctx context.Context, sessions domain.SessionStore) error {
	return shared.RetryOnConflict(ctx, "write_sessions", 3, 50*time.Millisecond, func() error {
		return s.writeOnce(ctx, sessions)
	})
}

func (s *SQLiteStore) writeOnce(ctx context.Context, sessions domain.SessionStore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_records`); err != nil {
		return fmt.Errorf("clear session records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_records (user_id, position, session_id, prompt, cwd, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for userID, records := range sessions {
		for i, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				userID, i, rec.SessionID, rec.Prompt, rec.CWD,
				rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(rec.Status),
			); err != nil {
				return fmt.Errorf("insert session record %s: %w", rec.SessionID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session records: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
