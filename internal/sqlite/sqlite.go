// Package sqlite implements the engine's Store on an embedded SQLite database.
// Vector ranking happens in Go over the rows the filters admit.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed implementation of service.Store.
type Store struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS writers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS texts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    writer_id TEXT NOT NULL REFERENCES writers (id),
    blob_ref TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_texts_writer ON texts (writer_id);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    text_id TEXT NOT NULL REFERENCES texts (id),
    status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'paused')),
    sentence_count INTEGER NOT NULL DEFAULT 0,
    total_sentences INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    -- run_id names the run holding the lease; updated_at is its heartbeat.
    run_id TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    started_at DATETIME,
    completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_text ON jobs (text_id);
-- At most one non-terminal job per text.
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active ON jobs (text_id)
    WHERE status IN ('pending', 'processing', 'paused');

CREATE TABLE IF NOT EXISTS sentences (
    id TEXT PRIMARY KEY,
    text_id TEXT NOT NULL REFERENCES texts (id),
    content TEXT NOT NULL,
    sentence_index INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (text_id, sentence_index)
);

CREATE TABLE IF NOT EXISTS embeddings (
    id TEXT PRIMARY KEY,
    sentence_id TEXT NOT NULL UNIQUE REFERENCES sentences (id),
    writer_id TEXT NOT NULL REFERENCES writers (id),
    vector TEXT NOT NULL, -- JSON array of float32
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_writer ON embeddings (writer_id);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_writers (
    conversation_id TEXT NOT NULL REFERENCES conversations (id),
    writer_id TEXT NOT NULL REFERENCES writers (id),
    position INTEGER NOT NULL,
    PRIMARY KEY (conversation_id, writer_id)
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations (id),
    sender TEXT NOT NULL CHECK (sender IN ('user', 'system')),
    sentence_id TEXT REFERENCES sentences (id),
    text TEXT,
    seq INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (conversation_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_sentence ON messages (conversation_id, sentence_id);
`

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one at a time anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := addColumn(ctx, db, "jobs", "run_id", "TEXT"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	slog.Info("SQLite store ready", "path", path)
	return &Store{db: db}, nil
}

// addColumn adds a column to tables created before it existed.
func addColumn(ctx context.Context, db *sql.DB, table, column, decl string) error {
	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WipeData deletes all rows. Use for testing only.
func (s *Store) WipeData(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"messages", "conversation_writers", "conversations",
			"embeddings", "sentences", "jobs", "texts", "writers",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		return nil
	})
}

// withTx runs fn in a transaction. Inside fn only tx may be used: the pool
// has one connection and s.db would block on it.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func now() time.Time {
	return time.Now().UTC()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
