// Package service provides the ingestion and retrieval operations of Echoes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/queue"
)

// DefaultStartConcurrency bounds parallel job creation in StartWriters.
const DefaultStartConcurrency = 4

// JobManagerOptions configures a JobManager. PauseBackoff and Lease should
// match the ingest service.
type JobManagerOptions struct {
	// PauseBackoff lets resumed paused jobs keep their retry delay.
	PauseBackoff time.Duration
	// Lease decides when a processing job counts as abandoned
	// (default DefaultJobLease).
	Lease time.Duration
	// Concurrency bounds parallel scheduling (default DefaultStartConcurrency).
	Concurrency int
}

// JobManager creates ingestion jobs and hands them to the scheduler.
type JobManager struct {
	store       Store
	scheduler   queue.Scheduler
	backoff     time.Duration
	lease       time.Duration
	concurrency int
}

// NewJobManager creates a new job manager.
func NewJobManager(store Store, scheduler queue.Scheduler, opts JobManagerOptions) *JobManager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultStartConcurrency
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultJobLease
	}
	return &JobManager{
		store:       store,
		scheduler:   scheduler,
		backoff:     opts.PauseBackoff,
		lease:       opts.Lease,
		concurrency: opts.Concurrency,
	}
}

// StartIngestion creates a pending job for the text and schedules it.
func (m *JobManager) StartIngestion(ctx context.Context, textID string) (*models.Job, error) {
	text, err := m.store.GetText(ctx, textID)
	if err != nil {
		return nil, storageErr("get text", err)
	}
	if text == nil {
		return nil, notFoundErr("text", textID)
	}

	job, err := m.store.CreateJob(ctx, textID)
	if errors.Is(err, ErrActiveJob) {
		return nil, fmt.Errorf("start ingestion of text %s: %w", textID, ErrActiveJob)
	}
	if err != nil {
		return nil, storageErr("create job", err)
	}

	slog.Info("job created", "job_id", job.ID, "text_id", textID)

	// A scheduling failure leaves the job pending; ResumeIncompleteJobs
	// picks it up on the next start.
	if err := m.scheduler.Schedule(ctx, textID, 0); err != nil {
		slog.Warn("failed to schedule job", "job_id", job.ID, "text_id", textID, "error", err)
	}
	return job, nil
}

// JobStatus returns a job snapshot.
func (m *JobManager) JobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storageErr("get job", err)
	}
	if job == nil {
		return nil, notFoundErr("job", jobID)
	}
	return job, nil
}

// ListJobs returns jobs, most recent first. An empty textID lists all jobs.
func (m *JobManager) ListJobs(ctx context.Context, textID string) ([]models.Job, error) {
	jobs, err := m.store.ListJobs(ctx, textID)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	return jobs, nil
}

// ResumeIncompleteJobs recovers jobs after a restart: processing jobs whose
// run stopped sending heartbeats for longer than the lease go back to
// pending, then every pending or paused job is scheduled again. Processing
// jobs with a live lease belong to another instance and are left alone.
// Paused jobs keep what is left of their backoff.
func (m *JobManager) ResumeIncompleteJobs(ctx context.Context) (int, error) {
	reset, err := m.store.ResetProcessingJobs(ctx, time.Now().Add(-m.lease))
	if err != nil {
		return 0, storageErr("reset processing jobs", err)
	}
	if reset > 0 {
		slog.Info("reset interrupted jobs", "count", reset)
	}

	jobs, err := m.store.ListJobsByStatus(ctx, models.JobPending, models.JobPaused)
	if err != nil {
		return 0, storageErr("list incomplete jobs", err)
	}
	if len(jobs) == 0 {
		slog.Info("no incomplete jobs to resume")
		return 0, nil
	}

	slog.Info("found incomplete jobs", "count", len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			delay := time.Duration(0)
			if job.Status == models.JobPaused {
				delay = max(m.backoff-time.Since(job.UpdatedAt), 0)
			}
			if err := m.scheduler.Schedule(gctx, job.TextID, delay); err != nil {
				return fmt.Errorf("schedule job %s: %w", job.ID, err)
			}
			slog.Info("resuming job", "job_id", job.ID, "text_id", job.TextID, "status", job.Status, "delay", delay)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// StartWriters starts ingestion for every text of the given writers.
// Texts that already have an active job are skipped.
func (m *JobManager) StartWriters(ctx context.Context, writerIDs []string) ([]models.Job, error) {
	if len(writerIDs) == 0 {
		return nil, validationErr("at least one writer is required")
	}

	var texts []models.Text
	for _, id := range uniqueStrings(writerIDs) {
		writer, err := m.store.GetWriter(ctx, id)
		if err != nil {
			return nil, storageErr("get writer", err)
		}
		if writer == nil {
			return nil, notFoundErr("writer", id)
		}
		ts, err := m.store.ListTexts(ctx, id)
		if err != nil {
			return nil, storageErr("list texts", err)
		}
		texts = append(texts, ts...)
	}

	var (
		mu   sync.Mutex
		jobs []models.Job
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, text := range texts {
		g.Go(func() error {
			job, err := m.StartIngestion(gctx, text.ID)
			if errors.Is(err, ErrActiveJob) {
				slog.Debug("text already has an active job", "text_id", text.ID)
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			jobs = append(jobs, *job)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return jobs, err
	}

	slices.SortFunc(jobs, func(a, b models.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
