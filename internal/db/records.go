package db

import (
	"time"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Table names.
const (
	tableWriter       = "writer"
	tableText         = "text"
	tableJob          = "job"
	tableSentence     = "sentence"
	tableEmbedding    = "embedding"
	tableConversation = "conversation"
	tableMessage      = "message"
)

func recordID(table, id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, id)
}

func recordIDs(table string, ids []string) []surrealmodels.RecordID {
	out := make([]surrealmodels.RecordID, len(ids))
	for i, id := range ids {
		out[i] = recordID(table, id)
	}
	return out
}

// idOf extracts the string key of a record this package created.
func idOf(id surrealmodels.RecordID) string {
	return models.MustRecordIDString(id)
}

func optionalID(id *surrealmodels.RecordID) *string {
	if id == nil {
		return nil
	}
	s := idOf(*id)
	return &s
}

// firstRows returns the rows of the first statement, or an empty slice.
func firstRows[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 || (*results)[0].Result == nil {
		return []T{}
	}
	return (*results)[0].Result
}

type writerRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r writerRow) model() models.Writer {
	return models.Writer{ID: idOf(r.ID), Name: r.Name, CreatedAt: r.CreatedAt}
}

type textRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	Title     string                 `json:"title"`
	Writer    surrealmodels.RecordID `json:"writer"`
	BlobRef   string                 `json:"blob_ref"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r textRow) model() models.Text {
	return models.Text{
		ID:        idOf(r.ID),
		Title:     r.Title,
		WriterID:  idOf(r.Writer),
		BlobRef:   r.BlobRef,
		CreatedAt: r.CreatedAt,
	}
}

type jobRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	Text           surrealmodels.RecordID `json:"text"`
	Status         string                 `json:"status"`
	SentenceCount  int                    `json:"sentence_count"`
	TotalSentences int                    `json:"total_sentences"`
	Error          *string                `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

func (r jobRow) model() models.Job {
	return models.Job{
		ID:             idOf(r.ID),
		TextID:         idOf(r.Text),
		Status:         models.JobStatus(r.Status),
		SentenceCount:  r.SentenceCount,
		TotalSentences: r.TotalSentences,
		Error:          r.Error,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
}

type candidateRow struct {
	Sentence      surrealmodels.RecordID `json:"sentence"`
	Content       string                 `json:"content"`
	SentenceIndex int                    `json:"sentence_index"`
	Writer        surrealmodels.RecordID `json:"writer"`
	Distance      float64                `json:"distance"`
}

func (r candidateRow) model() models.Candidate {
	return models.Candidate{
		SentenceID:    idOf(r.Sentence),
		Content:       r.Content,
		SentenceIndex: r.SentenceIndex,
		WriterID:      idOf(r.Writer),
		Distance:      r.Distance,
	}
}

type conversationRow struct {
	ID        surrealmodels.RecordID   `json:"id"`
	Writers   []surrealmodels.RecordID `json:"writers"`
	CreatedAt time.Time                `json:"created_at"`
}

func (r conversationRow) model() models.Conversation {
	writerIDs := make([]string, len(r.Writers))
	for i, w := range r.Writers {
		writerIDs[i] = idOf(w)
	}
	return models.Conversation{ID: idOf(r.ID), WriterIDs: writerIDs, CreatedAt: r.CreatedAt}
}

type messageRow struct {
	ID            surrealmodels.RecordID  `json:"id"`
	Conversation  surrealmodels.RecordID  `json:"conversation"`
	Sender        string                  `json:"sender"`
	Sentence      *surrealmodels.RecordID `json:"sentence,omitempty"`
	Text          *string                 `json:"text,omitempty"`
	Seq           int                     `json:"seq"`
	CreatedAt     time.Time               `json:"created_at"`
	Content       *string                 `json:"content,omitempty"`
	SentenceIndex *int                    `json:"sentence_index,omitempty"`
	Writer        *surrealmodels.RecordID `json:"writer,omitempty"`
}

func (r messageRow) model() models.Message {
	m := models.Message{
		ID:             idOf(r.ID),
		ConversationID: idOf(r.Conversation),
		Sender:         models.Sender(r.Sender),
		SentenceID:     optionalID(r.Sentence),
		Text:           r.Text,
		Seq:            r.Seq,
		CreatedAt:      r.CreatedAt,
		SentenceIndex:  r.SentenceIndex,
		WriterID:       optionalID(r.Writer),
	}
	switch {
	case r.Text != nil:
		m.Content = *r.Text
	case r.Content != nil:
		m.Content = *r.Content
	}
	return m
}
