package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/raphaelgruber/echoes/internal/models"
)

// DeleteUnembeddedSentences removes sentences of the text without an embedding.
func (s *Store) DeleteUnembeddedSentences(ctx context.Context, textID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sentences
		WHERE text_id = ? AND id NOT IN (SELECT sentence_id FROM embeddings)`, textID)
	if err != nil {
		return 0, fmt.Errorf("delete unembedded sentences: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete unembedded sentences: %w", err)
	}
	return int(n), nil
}

// MaxSentenceIndex returns the highest sentence index of the text, or -1.
func (s *Store) MaxSentenceIndex(ctx context.Context, textID string) (int, error) {
	var idx sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		"SELECT MAX(sentence_index) FROM sentences WHERE text_id = ?", textID).Scan(&idx); err != nil {
		return 0, fmt.Errorf("max sentence index: %w", err)
	}
	if !idx.Valid {
		return -1, nil
	}
	return int(idx.Int64), nil
}

// CountSentences returns the number of sentences stored for the text.
func (s *Store) CountSentences(ctx context.Context, textID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sentences WHERE text_id = ?", textID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sentences: %w", err)
	}
	return n, nil
}

// InsertSentenceBatch writes sentences and embeddings in one transaction.
func (s *Store) InsertSentenceBatch(ctx context.Context, textID, writerID string, batch []models.SentenceInput) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sentenceStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO sentences (id, text_id, content, sentence_index, created_at) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare sentence insert: %w", err)
		}
		defer sentenceStmt.Close()

		embeddingStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO embeddings (id, sentence_id, writer_id, vector, created_at) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare embedding insert: %w", err)
		}
		defer embeddingStmt.Close()

		t := now()
		for _, in := range batch {
			vector, err := json.Marshal(in.Vector)
			if err != nil {
				return fmt.Errorf("encode vector: %w", err)
			}
			sentenceID := models.NewID()
			if _, err := sentenceStmt.ExecContext(ctx, sentenceID, textID, in.Content, in.SentenceIndex, t); err != nil {
				return fmt.Errorf("insert sentence %d: %w", in.SentenceIndex, err)
			}
			if _, err := embeddingStmt.ExecContext(ctx, models.NewID(), sentenceID, writerID, string(vector), t); err != nil {
				return fmt.Errorf("insert embedding %d: %w", in.SentenceIndex, err)
			}
		}
		return nil
	})
}

// unusedFilter selects embeddings of the writers whose sentence has not been
// spoken by the system in the conversation. Arguments: conversation ID, writer IDs.
func unusedFilter(writerCount int) string {
	return `
		FROM embeddings e
		JOIN sentences s ON s.id = e.sentence_id
		WHERE e.writer_id IN (` + placeholders(writerCount) + `)
		AND s.id NOT IN (
			SELECT sentence_id FROM messages
			WHERE conversation_id = ? AND sender = 'system' AND sentence_id IS NOT NULL
		)`
}

func unusedArgs(conversationID string, writerIDs []string) []any {
	return append(stringArgs(writerIDs), conversationID)
}

// NearestUnused ranks candidate embeddings by cosine distance to query.
// Ties break on sentence ID so results are deterministic.
func (s *Store) NearestUnused(ctx context.Context, conversationID string, writerIDs []string, query []float32, limit int) ([]models.Candidate, error) {
	if len(writerIDs) == 0 || limit <= 0 {
		return []models.Candidate{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT s.id, s.content, s.sentence_index, e.writer_id, e.vector"+unusedFilter(len(writerIDs)),
		unusedArgs(conversationID, writerIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	candidates := []models.Candidate{}
	for rows.Next() {
		var (
			c      models.Candidate
			raw    string
			vector []float32
		)
		if err := rows.Scan(&c.SentenceID, &c.Content, &c.SentenceIndex, &c.WriterID, &raw); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &vector); err != nil {
			return nil, fmt.Errorf("decode vector of sentence %s: %w", c.SentenceID, err)
		}
		c.Distance = CosineDistance(query, vector)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].SentenceID < candidates[j].SentenceID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// RandomUnused picks one candidate uniformly at random. Returns nil if none remain.
func (s *Store) RandomUnused(ctx context.Context, conversationID string, writerIDs []string) (*models.Candidate, error) {
	if len(writerIDs) == 0 {
		return nil, nil
	}

	var c models.Candidate
	err := s.db.QueryRowContext(ctx,
		"SELECT s.id, s.content, s.sentence_index, e.writer_id"+unusedFilter(len(writerIDs))+" ORDER BY RANDOM() LIMIT 1",
		unusedArgs(conversationID, writerIDs)...).
		Scan(&c.SentenceID, &c.Content, &c.SentenceIndex, &c.WriterID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("random candidate: %w", err)
	}
	return &c, nil
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
