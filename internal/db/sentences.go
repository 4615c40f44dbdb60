package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DeleteUnembeddedSentences removes sentences of the text without an embedding.
func (c *Client) DeleteUnembeddedSentences(ctx context.Context, textID string) (int, error) {
	vars := map[string]any{"text": recordID(tableText, textID)}

	results, err := surrealdb.Query[[]surrealmodels.RecordID](ctx, c.db, `
		SELECT VALUE id FROM sentence
		WHERE text = $text
		AND id NOTINSIDE (SELECT VALUE sentence FROM embedding WHERE sentence.text = $text)
	`, vars)
	if err != nil {
		return 0, fmt.Errorf("find unembedded sentences: %w", err)
	}

	orphans := firstRows(results)
	if len(orphans) == 0 {
		return 0, nil
	}

	_, err = surrealdb.Query[any](ctx, c.db, `DELETE sentence WHERE id INSIDE $ids`,
		map[string]any{"ids": orphans})
	if err != nil {
		return 0, fmt.Errorf("delete unembedded sentences: %w", err)
	}
	return len(orphans), nil
}

// MaxSentenceIndex returns the highest sentence index of the text, or -1.
func (c *Client) MaxSentenceIndex(ctx context.Context, textID string) (int, error) {
	results, err := surrealdb.Query[[]int](ctx, c.db, `
		SELECT VALUE sentence_index FROM sentence WHERE text = $text
		ORDER BY sentence_index DESC LIMIT 1
	`, map[string]any{"text": recordID(tableText, textID)})
	if err != nil {
		return 0, fmt.Errorf("max sentence index: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return -1, nil
	}
	return rows[0], nil
}

// CountSentences returns the number of sentences stored for the text.
func (c *Client) CountSentences(ctx context.Context, textID string) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `
		SELECT count() AS count FROM sentence WHERE text = $text GROUP ALL
	`, map[string]any{"text": recordID(tableText, textID)})
	if err != nil {
		return 0, fmt.Errorf("count sentences: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// InsertSentenceBatch writes sentences and embeddings in one transaction.
// The unique (text, sentence_index) index aborts the batch on a duplicate.
func (c *Client) InsertSentenceBatch(ctx context.Context, textID, writerID string, batch []models.SentenceInput) error {
	items := make([]map[string]any, len(batch))
	for i, in := range batch {
		items[i] = map[string]any{
			"sentence":       recordID(tableSentence, models.NewID()),
			"embedding":      recordID(tableEmbedding, models.NewID()),
			"content":        in.Content,
			"sentence_index": in.SentenceIndex,
			"vector":         in.Vector,
		}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		FOR $item IN $items {
			CREATE $item.sentence SET
				text = $text,
				content = $item.content,
				sentence_index = $item.sentence_index,
				created_at = time::now();
			CREATE $item.embedding SET
				sentence = $item.sentence,
				writer = $writer,
				vector = $item.vector,
				created_at = time::now();
		};
		COMMIT TRANSACTION;
	`, map[string]any{
		"items":  items,
		"text":   recordID(tableText, textID),
		"writer": recordID(tableWriter, writerID),
	})
	if err != nil {
		return fmt.Errorf("insert sentence batch: %w", wrapQueryError(err))
	}
	return nil
}

// candidateQuery selects embeddings of the participant writers whose
// sentence the system has not yet spoken in the conversation.
const candidateQuery = `
	SELECT
		sentence,
		sentence.content AS content,
		sentence.sentence_index AS sentence_index,
		writer,
		%s AS distance
	FROM embedding
	WHERE writer INSIDE $writers
	AND sentence NOTINSIDE (
		SELECT VALUE sentence FROM message
		WHERE conversation = $conversation AND sender = "system"
	)
	ORDER BY %s
	LIMIT $limit
`

// NearestUnused ranks candidate embeddings by cosine distance to query.
func (c *Client) NearestUnused(ctx context.Context, conversationID string, writerIDs []string, query []float32, limit int) ([]models.Candidate, error) {
	if len(writerIDs) == 0 || limit <= 0 {
		return []models.Candidate{}, nil
	}

	sql := fmt.Sprintf(candidateQuery, "1 - vector::similarity::cosine(vector, $query)", "distance ASC")
	return c.queryCandidates(ctx, sql, map[string]any{
		"writers":      recordIDs(tableWriter, writerIDs),
		"conversation": recordID(tableConversation, conversationID),
		"query":        query,
		"limit":        limit,
	})
}

// RandomUnused picks one candidate uniformly at random. Returns nil if none remain.
func (c *Client) RandomUnused(ctx context.Context, conversationID string, writerIDs []string) (*models.Candidate, error) {
	if len(writerIDs) == 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(candidateQuery, "0.0", "rand()")
	candidates, err := c.queryCandidates(ctx, sql, map[string]any{
		"writers":      recordIDs(tableWriter, writerIDs),
		"conversation": recordID(tableConversation, conversationID),
		"limit":        1,
	})
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	return &candidates[0], nil
}

func (c *Client) queryCandidates(ctx context.Context, sql string, vars map[string]any) ([]models.Candidate, error) {
	results, err := surrealdb.Query[[]candidateRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	rows := firstRows(results)
	candidates := make([]models.Candidate, len(rows))
	for i, r := range rows {
		candidates[i] = r.model()
	}
	return candidates, nil
}
