package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/raphaelgruber/echoes/internal/models"
)

// CreateConversation inserts a conversation and its participants.
func (s *Store) CreateConversation(ctx context.Context, writerIDs []string) (*models.Conversation, error) {
	c := &models.Conversation{ID: models.NewID(), WriterIDs: writerIDs, CreatedAt: now()}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (id, created_at) VALUES (?, ?)", c.ID, c.CreatedAt); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for i, w := range writerIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO conversation_writers (conversation_id, writer_id, position) VALUES (?, ?, ?)",
				c.ID, w, i); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation retrieves a conversation with its participant writer IDs.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c := models.Conversation{ID: id}
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM conversations WHERE id = ?", id).Scan(&c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT writer_id FROM conversation_writers WHERE conversation_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	defer rows.Close()

	c.WriterIDs = []string{}
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		c.WriterIDs = append(c.WriterIDs, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	return &c, nil
}

// messageQuery resolves system messages to their sentence content and writer.
const messageQuery = `
	SELECT m.id, m.conversation_id, m.sender, m.sentence_id, m.text, m.seq, m.created_at,
		s.content, s.sentence_index, t.writer_id
	FROM messages m
	LEFT JOIN sentences s ON s.id = m.sentence_id
	LEFT JOIN texts t ON t.id = s.text_id
	WHERE m.conversation_id = ?`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m                         models.Message
		sender                    string
		sentenceID, text, content sql.NullString
		writerID                  sql.NullString
		sentenceIndex             sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &sender, &sentenceID, &text, &m.Seq, &m.CreatedAt,
		&content, &sentenceIndex, &writerID); err != nil {
		return nil, err
	}
	m.Sender = models.Sender(sender)
	m.SentenceID = nullString(sentenceID)
	m.Text = nullString(text)
	m.WriterID = nullString(writerID)
	if sentenceIndex.Valid {
		idx := int(sentenceIndex.Int64)
		m.SentenceIndex = &idx
	}
	switch {
	case m.Text != nil:
		m.Content = *m.Text
	case content.Valid:
		m.Content = content.String
	}
	return &m, nil
}

// LastMessage returns the latest message of the conversation, or nil.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, messageQuery+" ORDER BY m.seq DESC LIMIT 1", conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return m, nil
}

// ListMessages returns the conversation history ordered by seq.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageQuery+" ORDER BY m.seq", conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// AppendTurn inserts the optional user message and the system message with
// consecutive seq values. Returns the system message's seq.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, userText *string, sentenceID string) (int, error) {
	var systemSeq int

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var last int
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?", conversationID).
			Scan(&last); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}

		t := now()
		seq := last + 1
		if userText != nil {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO messages (id, conversation_id, sender, text, seq, created_at) VALUES (?, ?, 'user', ?, ?, ?)",
				models.NewID(), conversationID, *userText, seq, t); err != nil {
				return fmt.Errorf("insert user message: %w", err)
			}
			seq++
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (id, conversation_id, sender, sentence_id, seq, created_at) VALUES (?, ?, 'system', ?, ?, ?)",
			models.NewID(), conversationID, sentenceID, seq, t); err != nil {
			return fmt.Errorf("insert system message: %w", err)
		}
		systemSeq = seq
		return nil
	})
	if err != nil {
		return 0, err
	}
	return systemSeq, nil
}
