package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/echoes/internal/models"
)

const jobColumns = `id, text_id, status, sentence_count, total_sentences, error,
	created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                      models.Job
		status                 string
		errMsg                 sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.TextID, &status, &j.SentenceCount, &j.TotalSentences, &errMsg,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.Error = nullString(errMsg)
	j.StartedAt = nullTime(startedAt)
	j.CompletedAt = nullTime(completedAt)
	return &j, nil
}

// CreateJob inserts a pending job. The partial unique index rejects a second
// active job for the same text.
func (s *Store) CreateJob(ctx context.Context, textID string) (*models.Job, error) {
	t := now()
	j := &models.Job{
		ID:        models.NewID(),
		TextID:    textID,
		Status:    models.JobPending,
		CreatedAt: t,
		UpdatedAt: t,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO jobs (id, text_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		j.ID, j.TextID, string(j.Status), j.CreatedAt, j.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: text %s", models.ErrActiveJob, textID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ActiveJob returns the pending, processing or paused job of a text.
func (s *Store) ActiveJob(ctx context.Context, textID string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE text_id = ? AND status IN ('pending', 'processing', 'paused')",
		textID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first, optionally for a single text.
func (s *Store) ListJobs(ctx context.Context, textID string) ([]models.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if textID != "" {
		query += " WHERE text_id = ?"
		args = append(args, textID)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	return s.queryJobs(ctx, query, args...)
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error) {
	if len(statuses) == 0 {
		return []models.Job{}, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	query := "SELECT " + jobColumns + " FROM jobs WHERE status IN (" + placeholders(len(statuses)) + ") ORDER BY created_at, rowid"
	return s.queryJobs(ctx, query, args...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ClaimJob moves a pending or paused job to processing and stamps runID as
// the lease holder.
func (s *Store) ClaimJob(ctx context.Context, id, runID string) (bool, error) {
	t := now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'processing', run_id = ?, error = NULL, updated_at = ?,
			started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN ('pending', 'paused')`,
		runID, t, t, id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return n == 1, nil
}

// UpdateJob applies a status transition and any non-nil fields. With a RunID
// the update only matches while that run holds the processing lease; an
// update without other fields then only refreshes the heartbeat.
func (s *Store) UpdateJob(ctx context.Context, id string, update models.JobUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{now()}

	if update.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(update.Status))
	}
	if update.SentenceCount != nil {
		sets = append(sets, "sentence_count = ?")
		args = append(args, *update.SentenceCount)
	}
	if update.TotalSentences != nil {
		sets = append(sets, "total_sentences = ?")
		args = append(args, *update.TotalSentences)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, update.StartedAt.UTC())
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UTC())
	}
	where := "id = ?"
	args = append(args, id)
	if update.RunID != "" {
		where += " AND run_id = ? AND status = 'processing'"
		args = append(args, update.RunID)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s", models.ErrActiveJob, id)
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if update.RunID != "" {
			return fmt.Errorf("update job %s: %w", id, models.ErrLeaseLost)
		}
		return fmt.Errorf("update job: job %s does not exist", id)
	}
	return nil
}

// ResetProcessingJobs moves processing jobs whose last heartbeat is older
// than staleBefore back to pending and drops their lease.
func (s *Store) ResetProcessingJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', run_id = NULL, updated_at = ?
		WHERE status = 'processing' AND updated_at < ?`,
		now(), staleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset processing jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset processing jobs: %w", err)
	}
	return int(n), nil
}
