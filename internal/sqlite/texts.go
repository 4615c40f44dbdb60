package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/raphaelgruber/echoes/internal/models"
)

// FindOrCreateWriter returns the writer with the given name, creating it if needed.
func (s *Store) FindOrCreateWriter(ctx context.Context, name string) (*models.Writer, error) {
	w, err := s.writerByName(ctx, name)
	if err != nil || w != nil {
		return w, err
	}

	w = &models.Writer{ID: models.NewID(), Name: name, CreatedAt: now()}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO writers (id, name, created_at) VALUES (?, ?, ?)",
		w.ID, w.Name, w.CreatedAt)
	if isUniqueViolation(err) {
		// Created concurrently.
		return s.writerByName(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert writer: %w", err)
	}
	return w, nil
}

func (s *Store) writerByName(ctx context.Context, name string) (*models.Writer, error) {
	var w models.Writer
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM writers WHERE name = ?", name).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get writer by name: %w", err)
	}
	return &w, nil
}

// GetWriter retrieves a writer by ID.
func (s *Store) GetWriter(ctx context.Context, id string) (*models.Writer, error) {
	var w models.Writer
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM writers WHERE id = ?", id).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get writer: %w", err)
	}
	return &w, nil
}

// ListWriters returns all writers ordered by name.
func (s *Store) ListWriters(ctx context.Context) ([]models.Writer, error) {
	return s.queryWriters(ctx, "SELECT id, name, created_at FROM writers ORDER BY name")
}

// ListProcessingWriters returns writers that own a text with an active job.
func (s *Store) ListProcessingWriters(ctx context.Context) ([]models.Writer, error) {
	return s.queryWriters(ctx, `
		SELECT DISTINCT w.id, w.name, w.created_at
		FROM writers w
		JOIN texts t ON t.writer_id = w.id
		JOIN jobs j ON j.text_id = t.id
		WHERE j.status IN ('pending', 'processing', 'paused')
		ORDER BY w.name`)
}

func (s *Store) queryWriters(ctx context.Context, query string, args ...any) ([]models.Writer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query writers: %w", err)
	}
	defer rows.Close()

	writers := []models.Writer{}
	for rows.Next() {
		var w models.Writer
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan writer: %w", err)
		}
		writers = append(writers, w)
	}
	return writers, rows.Err()
}

// CreateText inserts a text.
func (s *Store) CreateText(ctx context.Context, input models.TextInput) (*models.Text, error) {
	t := &models.Text{
		ID:        models.NewID(),
		Title:     input.Title,
		WriterID:  input.WriterID,
		BlobRef:   input.BlobRef,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO texts (id, title, writer_id, blob_ref, created_at) VALUES (?, ?, ?, ?, ?)",
		t.ID, t.Title, t.WriterID, t.BlobRef, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert text: %w", err)
	}
	return t, nil
}

// GetText retrieves a text by ID.
func (s *Store) GetText(ctx context.Context, id string) (*models.Text, error) {
	var t models.Text
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, writer_id, blob_ref, created_at FROM texts WHERE id = ?", id).
		Scan(&t.ID, &t.Title, &t.WriterID, &t.BlobRef, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get text: %w", err)
	}
	return &t, nil
}

// ListTexts lists the texts of one writer, or all texts if writerID is empty.
func (s *Store) ListTexts(ctx context.Context, writerID string) ([]models.Text, error) {
	query := "SELECT id, title, writer_id, blob_ref, created_at FROM texts"
	var args []any
	if writerID != "" {
		query += " WHERE writer_id = ?"
		args = append(args, writerID)
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}
	defer rows.Close()

	texts := []models.Text{}
	for rows.Next() {
		var t models.Text
		if err := rows.Scan(&t.ID, &t.Title, &t.WriterID, &t.BlobRef, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// DeleteText removes a text and everything derived from it in one transaction.
// Returns nil if the text does not exist.
func (s *Store) DeleteText(ctx context.Context, id string) (*models.TextDeletion, error) {
	var result *models.TextDeletion

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var writerID, blobRef string
		err := tx.QueryRowContext(ctx, "SELECT writer_id, blob_ref FROM texts WHERE id = ?", id).
			Scan(&writerID, &blobRef)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get text: %w", err)
		}

		steps := []struct {
			name  string
			query string
		}{
			{"messages", "DELETE FROM messages WHERE sentence_id IN (SELECT id FROM sentences WHERE text_id = ?)"},
			{"embeddings", "DELETE FROM embeddings WHERE sentence_id IN (SELECT id FROM sentences WHERE text_id = ?)"},
			{"sentences", "DELETE FROM sentences WHERE text_id = ?"},
			{"jobs", "DELETE FROM jobs WHERE text_id = ?"},
			{"text", "DELETE FROM texts WHERE id = ?"},
		}

		deletion := &models.TextDeletion{TextID: id, BlobRef: blobRef}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query, id)
			if err != nil {
				return fmt.Errorf("delete %s: %w", step.name, err)
			}
			if step.name == "sentences" {
				n, _ := res.RowsAffected()
				deletion.Sentences = int(n)
			}
		}

		var remaining int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM texts WHERE writer_id = ?", writerID).
			Scan(&remaining); err != nil {
			return fmt.Errorf("count writer texts: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM writers WHERE id = ?", writerID); err != nil {
				return fmt.Errorf("delete writer: %w", err)
			}
			deletion.WriterDeleted = true
		}

		result = deletion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
