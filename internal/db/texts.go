package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// FindOrCreateWriter returns the writer with the given name, creating it if needed.
func (c *Client) FindOrCreateWriter(ctx context.Context, name string) (*models.Writer, error) {
	w, err := c.writerByName(ctx, name)
	if err != nil || w != nil {
		return w, err
	}

	results, err := surrealdb.Query[[]writerRow](ctx, c.db, `
		CREATE type::record("writer", $id) SET name = $name, created_at = time::now()
	`, map[string]any{"id": models.NewID(), "name": name})
	if err := wrapQueryError(err); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent upload of the same writer.
			return c.writerByName(ctx, name)
		}
		return nil, fmt.Errorf("create writer: %w", err)
	}

	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("create writer: no result returned")
	}
	writer := rows[0].model()
	return &writer, nil
}

func (c *Client) writerByName(ctx context.Context, name string) (*models.Writer, error) {
	results, err := surrealdb.Query[[]writerRow](ctx, c.db, `
		SELECT * FROM writer WHERE name = $name LIMIT 1
	`, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("get writer by name: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	w := rows[0].model()
	return &w, nil
}

// GetWriter retrieves a writer by ID.
// Returns nil if not found.
func (c *Client) GetWriter(ctx context.Context, id string) (*models.Writer, error) {
	results, err := surrealdb.Query[[]writerRow](ctx, c.db, `
		SELECT * FROM type::record("writer", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get writer: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	w := rows[0].model()
	return &w, nil
}

// ListWriters returns all writers ordered by name.
func (c *Client) ListWriters(ctx context.Context) ([]models.Writer, error) {
	return c.queryWriters(ctx, `SELECT * FROM writer ORDER BY name`, nil)
}

// ListProcessingWriters returns writers that own a text with an active job.
func (c *Client) ListProcessingWriters(ctx context.Context) ([]models.Writer, error) {
	return c.queryWriters(ctx, `
		SELECT * FROM writer
		WHERE id INSIDE (SELECT VALUE text.writer FROM job WHERE status INSIDE $active)
		ORDER BY name
	`, map[string]any{"active": activeStatuses()})
}

func (c *Client) queryWriters(ctx context.Context, sql string, vars map[string]any) ([]models.Writer, error) {
	results, err := surrealdb.Query[[]writerRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list writers: %w", err)
	}
	rows := firstRows(results)
	writers := make([]models.Writer, len(rows))
	for i, r := range rows {
		writers[i] = r.model()
	}
	return writers, nil
}

// CreateText inserts a text.
func (c *Client) CreateText(ctx context.Context, input models.TextInput) (*models.Text, error) {
	results, err := surrealdb.Query[[]textRow](ctx, c.db, `
		CREATE type::record("text", $id) SET
			title = $title,
			writer = $writer,
			blob_ref = $blob_ref,
			created_at = time::now()
	`, map[string]any{
		"id":       models.NewID(),
		"title":    input.Title,
		"writer":   recordID(tableWriter, input.WriterID),
		"blob_ref": input.BlobRef,
	})
	if err != nil {
		return nil, fmt.Errorf("create text: %w", wrapQueryError(err))
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("create text: no result returned")
	}
	t := rows[0].model()
	return &t, nil
}

// GetText retrieves a text by ID.
// Returns nil if not found.
func (c *Client) GetText(ctx context.Context, id string) (*models.Text, error) {
	results, err := surrealdb.Query[[]textRow](ctx, c.db, `
		SELECT * FROM type::record("text", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get text: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].model()
	return &t, nil
}

// ListTexts lists the texts of one writer, or all texts if writerID is empty.
func (c *Client) ListTexts(ctx context.Context, writerID string) ([]models.Text, error) {
	sql := `SELECT * FROM text ORDER BY created_at`
	vars := map[string]any{}
	if writerID != "" {
		sql = `SELECT * FROM text WHERE writer = $writer ORDER BY created_at`
		vars["writer"] = recordID(tableWriter, writerID)
	}

	results, err := surrealdb.Query[[]textRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}
	rows := firstRows(results)
	texts := make([]models.Text, len(rows))
	for i, r := range rows {
		texts[i] = r.model()
	}
	return texts, nil
}

// DeleteText removes a text with its sentences, embeddings, jobs and the
// system messages that quoted it, then the writer if it has no texts left.
// Returns nil if the text does not exist.
func (c *Client) DeleteText(ctx context.Context, id string) (*models.TextDeletion, error) {
	text, err := c.GetText(ctx, id)
	if err != nil || text == nil {
		return nil, err
	}

	sentences, err := c.CountSentences(ctx, id)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{"text": recordID(tableText, id)}
	_, err = surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $sentences = (SELECT VALUE id FROM sentence WHERE text = $text);
		DELETE message WHERE sentence INSIDE $sentences;
		DELETE embedding WHERE sentence INSIDE $sentences;
		DELETE sentence WHERE text = $text;
		DELETE job WHERE text = $text;
		DELETE $text;
		COMMIT TRANSACTION;
	`, vars)
	if err != nil {
		return nil, fmt.Errorf("delete text: %w", wrapQueryError(err))
	}

	deletion := &models.TextDeletion{TextID: id, BlobRef: text.BlobRef, Sentences: sentences}

	remaining, err := c.ListTexts(ctx, text.WriterID)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		_, err = surrealdb.Query[any](ctx, c.db, `DELETE $writer`,
			map[string]any{"writer": recordID(tableWriter, text.WriterID)})
		if err != nil {
			return nil, fmt.Errorf("delete writer: %w", err)
		}
		deletion.WriterDeleted = true
	}
	return deletion, nil
}
