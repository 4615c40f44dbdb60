package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

func activeStatuses() []string {
	out := make([]string, len(models.ActiveJobStatuses))
	for i, s := range models.ActiveJobStatuses {
		out[i] = string(s)
	}
	return out
}

// CreateJob inserts a pending job. The existence check and the insert run in
// one transaction so two concurrent creates cannot both succeed.
func (c *Client) CreateJob(ctx context.Context, textID string) (*models.Job, error) {
	id := models.NewID()
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $active = (SELECT VALUE id FROM job WHERE text = $text AND status INSIDE $statuses);
		IF array::len($active) > 0 {
			THROW "`+activeJobMarker+`"
		};
		CREATE type::record("job", $id) SET
			text = $text,
			status = "pending",
			sentence_count = 0,
			total_sentences = 0,
			created_at = time::now(),
			updated_at = time::now();
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":       id,
		"text":     recordID(tableText, textID),
		"statuses": activeStatuses(),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", wrapQueryError(err))
	}

	job, err := c.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("create job: job %s missing after commit", id)
	}
	return job, nil
}

// GetJob retrieves a job by ID.
// Returns nil if not found.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	j := rows[0].model()
	return &j, nil
}

// ActiveJob returns the pending, processing or paused job of a text.
func (c *Client) ActiveJob(ctx context.Context, textID string) (*models.Job, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM job WHERE text = $text AND status INSIDE $statuses LIMIT 1
	`, map[string]any{
		"text":     recordID(tableText, textID),
		"statuses": activeStatuses(),
	})
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	j := rows[0].model()
	return &j, nil
}

// ListJobs returns jobs newest first, optionally for a single text.
func (c *Client) ListJobs(ctx context.Context, textID string) ([]models.Job, error) {
	sql := `SELECT * FROM job ORDER BY created_at DESC`
	vars := map[string]any{}
	if textID != "" {
		sql = `SELECT * FROM job WHERE text = $text ORDER BY created_at DESC`
		vars["text"] = recordID(tableText, textID)
	}
	return c.queryJobs(ctx, sql, vars)
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
func (c *Client) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return c.queryJobs(ctx, `
		SELECT * FROM job WHERE status INSIDE $statuses ORDER BY created_at ASC
	`, map[string]any{"statuses": values})
}

func (c *Client) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]models.Job, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	rows := firstRows(results)
	jobs := make([]models.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.model()
	}
	return jobs, nil
}

// ClaimJob moves a pending or paused job to processing and stamps runID as
// the lease holder. The conditional UPDATE returns no row when the job was
// in any other state.
func (c *Client) ClaimJob(ctx context.Context, id, runID string) (bool, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		UPDATE type::record("job", $id) SET
			status = "processing",
			run_id = $run,
			error = NONE,
			started_at = started_at ?? time::now(),
			updated_at = time::now()
		WHERE status INSIDE ["pending", "paused"]
		RETURN AFTER
	`, map[string]any{"id": id, "run": runID})
	if err != nil {
		return false, fmt.Errorf("claim job: %w", wrapQueryError(err))
	}
	return len(firstRows(results)) == 1, nil
}

// UpdateJob applies a status transition and any non-nil fields. With a RunID
// the update only matches while that run holds the processing lease.
func (c *Client) UpdateJob(ctx context.Context, id string, update models.JobUpdate) error {
	sets := []string{"updated_at = time::now()"}
	vars := map[string]any{"id": id}

	if update.Status != "" {
		sets = append(sets, "status = $status")
		vars["status"] = string(update.Status)
	}
	if update.SentenceCount != nil {
		sets = append(sets, "sentence_count = $sentence_count")
		vars["sentence_count"] = *update.SentenceCount
	}
	if update.TotalSentences != nil {
		sets = append(sets, "total_sentences = $total_sentences")
		vars["total_sentences"] = *update.TotalSentences
	}
	if update.Error != nil {
		sets = append(sets, "error = $error")
		vars["error"] = *update.Error
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = $started_at")
		vars["started_at"] = update.StartedAt.UTC()
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = $completed_at")
		vars["completed_at"] = update.CompletedAt.UTC()
	}

	where := ""
	if update.RunID != "" {
		where = ` WHERE run_id = $run AND status = "processing"`
		vars["run"] = update.RunID
	}

	// UPDATE never creates a record; a missing job returns no row.
	sql := fmt.Sprintf(`UPDATE type::record("job", $id) SET %s%s RETURN AFTER`, strings.Join(sets, ", "), where)
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, vars)
	if err != nil {
		return fmt.Errorf("update job: %w", wrapQueryError(err))
	}
	if len(firstRows(results)) == 0 {
		if update.RunID != "" {
			return fmt.Errorf("update job %s: %w", id, models.ErrLeaseLost)
		}
		return fmt.Errorf("update job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResetProcessingJobs moves processing jobs whose last heartbeat is older
// than staleBefore back to pending and drops their lease.
func (c *Client) ResetProcessingJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		UPDATE job SET status = "pending", run_id = NONE, updated_at = time::now()
		WHERE status = "processing" AND updated_at < $stale
		RETURN AFTER
	`, map[string]any{"stale": staleBefore.UTC()})
	if err != nil {
		return 0, fmt.Errorf("reset processing jobs: %w", wrapQueryError(err))
	}
	return len(firstRows(results)), nil
}
