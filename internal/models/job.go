package models

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobPaused     JobStatus = "paused"
)

// Active reports whether the status is non-terminal.
// At most one active job may exist per text.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing || s == JobPaused
}

// Terminal reports whether no further transitions will happen without a new job.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ActiveJobStatuses lists the non-terminal statuses.
var ActiveJobStatuses = []JobStatus{JobPending, JobProcessing, JobPaused}

// Job is the unit of ingestion work for one text.
type Job struct {
	ID             string     `json:"id"`
	TextID         string     `json:"text_id"`
	Status         JobStatus  `json:"status"`
	SentenceCount  int        `json:"sentence_count"`
	TotalSentences int        `json:"total_sentences"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobUpdate carries a status transition. Nil fields are left unchanged.
// A non-empty RunID restricts the update to the run holding the job's lease.
type JobUpdate struct {
	RunID          string
	Status         JobStatus
	SentenceCount  *int
	TotalSentences *int
	Error          *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}
