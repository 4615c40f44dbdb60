package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/echoes/internal/models"
)

// Lookups return (nil, nil) when the record does not exist.

// TextStore persists writers and their uploaded texts.
type TextStore interface {
	FindOrCreateWriter(ctx context.Context, name string) (*models.Writer, error)
	GetWriter(ctx context.Context, id string) (*models.Writer, error)
	ListWriters(ctx context.Context) ([]models.Writer, error)
	// ListProcessingWriters returns writers owning a text with an active job.
	ListProcessingWriters(ctx context.Context) ([]models.Writer, error)

	CreateText(ctx context.Context, input models.TextInput) (*models.Text, error)
	GetText(ctx context.Context, id string) (*models.Text, error)
	// ListTexts lists the texts of one writer, or all texts for an empty writerID.
	ListTexts(ctx context.Context, writerID string) ([]models.Text, error)
	// DeleteText removes the text with its sentences, embeddings, jobs and
	// the system messages that quoted it. The writer is removed as well when
	// it has no texts left.
	DeleteText(ctx context.Context, id string) (*models.TextDeletion, error)
}

// JobStore persists ingestion jobs.
type JobStore interface {
	// CreateJob inserts a pending job. Fails with models.ErrActiveJob if the
	// text already has an active one.
	CreateJob(ctx context.Context, textID string) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ActiveJob(ctx context.Context, textID string) (*models.Job, error)
	// ListJobs returns jobs newest first, filtered to one text unless textID is empty.
	ListJobs(ctx context.Context, textID string) ([]models.Job, error)
	ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error)
	// ClaimJob moves a pending or paused job to processing and records runID
	// as the lease holder. It reports false when the job was in any other state.
	ClaimJob(ctx context.Context, id, runID string) (bool, error)
	// UpdateJob applies the update and refreshes the heartbeat. An update
	// with a RunID fails with models.ErrLeaseLost unless that run still holds
	// the processing lease.
	UpdateJob(ctx context.Context, id string, update models.JobUpdate) error
	// ResetProcessingJobs moves processing jobs whose heartbeat is older than
	// staleBefore back to pending.
	ResetProcessingJobs(ctx context.Context, staleBefore time.Time) (int, error)
}

// SentenceStore persists sentences with their embeddings and answers
// nearest-neighbour queries.
type SentenceStore interface {
	// DeleteUnembeddedSentences removes sentences of the text that have no embedding.
	DeleteUnembeddedSentences(ctx context.Context, textID string) (int, error)
	// MaxSentenceIndex returns the highest stored index, or -1 if none.
	MaxSentenceIndex(ctx context.Context, textID string) (int, error)
	CountSentences(ctx context.Context, textID string) (int, error)
	// InsertSentenceBatch writes the sentences and their embeddings in one transaction.
	InsertSentenceBatch(ctx context.Context, textID, writerID string, batch []models.SentenceInput) error
	// NearestUnused ranks embeddings of the given writers by cosine distance
	// to query, skipping sentences already spoken in the conversation.
	NearestUnused(ctx context.Context, conversationID string, writerIDs []string, query []float32, limit int) ([]models.Candidate, error)
	// RandomUnused picks a uniformly random sentence under the same filters.
	RandomUnused(ctx context.Context, conversationID string, writerIDs []string) (*models.Candidate, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, writerIDs []string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// LastMessage returns the highest-seq message with its content resolved.
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	// AppendTurn inserts the optional user message and the system message
	// with consecutive seq values in one transaction. It returns the seq of
	// the system message.
	AppendTurn(ctx context.Context, conversationID string, userText *string, sentenceID string) (int, error)
}

// Store is the full persistence contract of the engine.
type Store interface {
	TextStore
	JobStore
	SentenceStore
	ConversationStore
}
