package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateConversation inserts a conversation with its participant writers.
func (c *Client) CreateConversation(ctx context.Context, writerIDs []string) (*models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		CREATE type::record("conversation", $id) SET
			writers = $writers,
			created_at = time::now()
	`, map[string]any{
		"id":      models.NewID(),
		"writers": recordIDs(tableWriter, writerIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", wrapQueryError(err))
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("create conversation: no result returned")
	}
	conv := rows[0].model()
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns nil if not found.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	conv := rows[0].model()
	return &conv, nil
}

// messageQuery resolves system messages to their sentence content and writer
// through the record links.
const messageQuery = `
	SELECT
		id, conversation, sender, sentence, text, seq, created_at,
		sentence.content AS content,
		sentence.sentence_index AS sentence_index,
		sentence.text.writer AS writer
	FROM message
	WHERE conversation = $conversation
	ORDER BY seq %s
	%s
`

// LastMessage returns the latest message of the conversation, or nil.
func (c *Client) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	messages, err := c.queryMessages(ctx, fmt.Sprintf(messageQuery, "DESC", "LIMIT 1"), conversationID)
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return &messages[0], nil
}

// ListMessages returns the conversation history ordered by seq.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return c.queryMessages(ctx, fmt.Sprintf(messageQuery, "ASC", ""), conversationID)
}

func (c *Client) queryMessages(ctx context.Context, sql, conversationID string) ([]models.Message, error) {
	results, err := surrealdb.Query[[]messageRow](ctx, c.db, sql, map[string]any{
		"conversation": recordID(tableConversation, conversationID),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	rows := firstRows(results)
	messages := make([]models.Message, len(rows))
	for i, r := range rows {
		messages[i] = r.model()
	}
	return messages, nil
}

// AppendTurn inserts the optional user message and the system message with
// consecutive seq values in one transaction. Returns the system message's seq.
func (c *Client) AppendTurn(ctx context.Context, conversationID string, userText *string, sentenceID string) (int, error) {
	systemID := models.NewID()
	vars := map[string]any{
		"conversation": recordID(tableConversation, conversationID),
		"sentence":     recordID(tableSentence, sentenceID),
		"system_id":    systemID,
	}

	userStmt := ""
	systemOffset := 1
	if userText != nil {
		userStmt = `CREATE type::record("message", $user_id) SET
			conversation = $conversation,
			sender = "user",
			text = $user_text,
			seq = $last + 1,
			created_at = time::now();`
		vars["user_id"] = models.NewID()
		vars["user_text"] = *userText
		systemOffset = 2
	}

	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;
		LET $last = (SELECT VALUE seq FROM message WHERE conversation = $conversation ORDER BY seq DESC LIMIT 1)[0] ?? 0;
		%s
		CREATE type::record("message", $system_id) SET
			conversation = $conversation,
			sender = "system",
			sentence = $sentence,
			seq = $last + %d,
			created_at = time::now();
		COMMIT TRANSACTION;
	`, userStmt, systemOffset)

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return 0, fmt.Errorf("append turn: %w", wrapQueryError(err))
	}

	results, err := surrealdb.Query[[]int](ctx, c.db, `
		SELECT VALUE seq FROM type::record("message", $id)
	`, map[string]any{"id": systemID})
	if err != nil {
		return 0, fmt.Errorf("read turn seq: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return 0, fmt.Errorf("append turn: message %s missing after commit", systemID)
	}
	return rows[0], nil
}
