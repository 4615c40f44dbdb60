package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/echoes/internal/blob"
	"github.com/raphaelgruber/echoes/internal/llm"
	"github.com/raphaelgruber/echoes/internal/metrics"
	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/parser"
	"github.com/raphaelgruber/echoes/internal/queue"
)

// statusUpdateTimeout bounds job bookkeeping writes that must outlive a
// cancelled run.
const statusUpdateTimeout = 10 * time.Second

// DefaultJobLease is how long a processing job may go without a heartbeat
// before another instance treats its run as dead.
const DefaultJobLease = 2 * time.Minute

// IngestOptions configures the ingestion pipeline.
type IngestOptions struct {
	// Tokenizer counts tokens for batching (default WordTokenizer).
	Tokenizer parser.Tokenizer
	// Batch bounds each embedding request (default parser.DefaultBatchOptions).
	Batch parser.BatchOptions
	// PauseBackoff delays the retry of a rate-limited job (default 90s).
	PauseBackoff time.Duration
	// Lease is refreshed every Lease/4 while a run holds a job
	// (default DefaultJobLease).
	Lease   time.Duration
	Metrics *metrics.Collector
}

// IngestService turns uploaded texts into stored sentence embeddings.
type IngestService struct {
	store     Store
	blobs     blob.Store
	embedder  *llm.Embedder
	scheduler queue.Scheduler
	tokenizer parser.Tokenizer
	batch     parser.BatchOptions
	backoff   time.Duration
	lease     time.Duration
	metrics   *metrics.Collector
	locks     *keyedMutex
}

// NewIngestService creates a new ingest service.
func NewIngestService(store Store, blobs blob.Store, embedder *llm.Embedder, scheduler queue.Scheduler, opts IngestOptions) *IngestService {
	if opts.Tokenizer == nil {
		opts.Tokenizer = parser.WordTokenizer{}
	}
	if opts.Batch.MaxBatchSize <= 0 || opts.Batch.MaxTokens <= 0 {
		opts.Batch = parser.DefaultBatchOptions()
	}
	if opts.PauseBackoff <= 0 {
		opts.PauseBackoff = 90 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultJobLease
	}
	return &IngestService{
		store:     store,
		blobs:     blobs,
		embedder:  embedder,
		scheduler: scheduler,
		tokenizer: opts.Tokenizer,
		batch:     opts.Batch,
		backoff:   opts.PauseBackoff,
		lease:     opts.Lease,
		metrics:   opts.Metrics,
		locks:     newKeyedMutex(),
	}
}

// RunText is the scheduler entry point: it runs the active job of the text.
// A delivery for a text without an active job is a no-op.
func (s *IngestService) RunText(ctx context.Context, textID string) {
	job, err := s.store.ActiveJob(ctx, textID)
	if err != nil {
		slog.Warn("failed to look up active job", "text_id", textID, "error", err)
		return
	}
	if job == nil {
		slog.Debug("no active job for delivered text", "text_id", textID)
		return
	}
	s.RunJob(ctx, job.ID)
}

// RunJob executes one ingestion run. It never returns an error: every path
// ends in a job status update, except when the job cannot be claimed or
// another run took it over.
func (s *IngestService) RunJob(ctx context.Context, jobID string) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Warn("failed to load job", "job_id", jobID, "error", err)
		return
	}
	if job == nil {
		slog.Warn("job not found", "job_id", jobID)
		return
	}

	// The mutex covers this process; the lease covers other instances.
	unlock := s.locks.Lock(job.TextID)
	defer unlock()

	runID := models.NewID()
	claimed, err := s.store.ClaimJob(ctx, jobID, runID)
	if err != nil {
		slog.Warn("failed to claim job", "job_id", jobID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("job not claimable, skipping", "job_id", jobID)
		return
	}

	start := time.Now()
	slog.Info("job started", "job_id", jobID, "text_id", job.TextID, "run_id", runID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := s.keepLease(runCtx, cancel, jobID, runID)
	persisted, err := s.runClaimed(runCtx, job, runID)
	stop()
	s.metrics.RecordTiming(metrics.OpJob, time.Since(start))

	if errors.Is(err, models.ErrLeaseLost) || errors.Is(context.Cause(runCtx), models.ErrLeaseLost) {
		s.abandon(job, runID, persisted)
		return
	}
	s.finish(ctx, job, runID, persisted, err, time.Since(start))
}

// keepLease refreshes the job heartbeat until stop is called. When the
// store reports the lease as lost the run is cancelled with that cause.
func (s *IngestService) keepLease(ctx context.Context, cancel context.CancelCauseFunc, jobID, runID string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(s.lease / 4)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := s.store.UpdateJob(ctx, jobID, models.JobUpdate{RunID: runID})
			if errors.Is(err, models.ErrLeaseLost) {
				cancel(err)
				return
			}
			if err != nil {
				slog.Warn("failed to refresh job lease", "job_id", jobID, "error", err)
			}
		}
	})
	return func() {
		close(done)
		wg.Wait()
	}
}

// abandon ends a run whose job now belongs to another run. Nothing is
// written: the new owner records the outcome.
func (s *IngestService) abandon(job *models.Job, runID string, persisted int) {
	s.metrics.Inc(metrics.CountJobsLeaseLost, 1)
	slog.Warn("job lease lost, abandoning run",
		"job_id", job.ID, "text_id", job.TextID, "run_id", runID, "sentences", persisted)
}

// runClaimed performs the pipeline and returns the number of sentences
// durably stored for the text. Panics are converted to errors.
func (s *IngestService) runClaimed(ctx context.Context, job *models.Job, runID string) (persisted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingestion panicked", "job_id", job.ID, "panic", r)
			err = fmt.Errorf("internal panic: %v", r)
		}
	}()

	text, err := s.store.GetText(ctx, job.TextID)
	if err != nil {
		return 0, storageErr("get text", err)
	}
	if text == nil {
		return 0, notFoundErr("text", job.TextID)
	}

	raw, err := s.blobs.Get(ctx, text.BlobRef)
	if err != nil {
		return 0, fmt.Errorf("load text content: %w", err)
	}

	// Sentences without an embedding are leftovers of an interrupted write.
	repaired, err := s.store.DeleteUnembeddedSentences(ctx, text.ID)
	if err != nil {
		return 0, storageErr("repair sentences", err)
	}
	if repaired > 0 {
		slog.Warn("removed sentences without embeddings", "job_id", job.ID, "text_id", text.ID, "count", repaired)
	}

	maxIndex, err := s.store.MaxSentenceIndex(ctx, text.ID)
	if err != nil {
		return 0, storageErr("resume offset", err)
	}
	resumeFrom := maxIndex + 1

	persisted, err = s.store.CountSentences(ctx, text.ID)
	if err != nil {
		return 0, storageErr("count sentences", err)
	}

	sentences := parser.Segment(string(raw))
	total := len(sentences)
	if err := s.updateJob(ctx, job.ID, models.JobUpdate{
		RunID:          runID,
		Status:         models.JobProcessing,
		SentenceCount:  &persisted,
		TotalSentences: &total,
	}); errors.Is(err, models.ErrLeaseLost) {
		return persisted, err
	}

	if resumeFrom >= total {
		return persisted, nil
	}
	if resumeFrom > 0 {
		slog.Info("resuming job", "job_id", job.ID, "resume_from", resumeFrom, "total", total)
	}

	batches, err := parser.Batch(sentences[resumeFrom:], s.tokenizer, s.batch)
	if err != nil {
		return persisted, err
	}

	offset := resumeFrom
	for i, batch := range batches {
		vectors, err := s.embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			return persisted, fmt.Errorf("embed batch %d/%d: %w", i+1, len(batches), err)
		}

		inputs := make([]models.SentenceInput, len(batch))
		for j, content := range batch {
			inputs[j] = models.SentenceInput{
				Content:       content,
				SentenceIndex: offset + j,
				Vector:        vectors[j],
			}
		}

		persistStart := time.Now()
		if err := s.store.InsertSentenceBatch(ctx, text.ID, text.WriterID, inputs); err != nil {
			return persisted, storageErr("persist batch", err)
		}
		s.metrics.RecordItems(metrics.OpBatchPersist, time.Since(persistStart), len(inputs))
		s.metrics.Inc(metrics.CountSentencesEmbedded, int64(len(inputs)))

		offset += len(batch)
		persisted += len(batch)
		update := models.JobUpdate{RunID: runID, Status: models.JobProcessing, SentenceCount: &persisted}
		if err := s.updateJob(ctx, job.ID, update); errors.Is(err, models.ErrLeaseLost) {
			return persisted, err
		}

		slog.Debug("batch persisted", "job_id", job.ID, "batch", i+1, "batches", len(batches), "sentences", persisted)
	}

	return persisted, nil
}

// finish records the terminal (or paused) state of a run.
func (s *IngestService) finish(ctx context.Context, job *models.Job, runID string, persisted int, runErr error, elapsed time.Duration) {
	now := time.Now().UTC()
	update := models.JobUpdate{RunID: runID, SentenceCount: &persisted}

	switch {
	case runErr == nil:
		update.Status = models.JobCompleted
		update.CompletedAt = &now
	case errors.Is(runErr, llm.ErrRateLimited):
		msg := runErr.Error()
		update.Status = models.JobPaused
		update.Error = &msg
	case ctx.Err() != nil && errors.Is(runErr, context.Canceled):
		// Shutdown: hand the job back so the next start resumes it.
		update.Status = models.JobPending
	default:
		msg := runErr.Error()
		update.Status = models.JobFailed
		update.Error = &msg
		update.CompletedAt = &now
	}

	if err := s.updateJob(ctx, job.ID, update); errors.Is(err, models.ErrLeaseLost) {
		s.abandon(job, runID, persisted)
		return
	}

	switch update.Status {
	case models.JobCompleted:
		s.metrics.Inc(metrics.CountJobsCompleted, 1)
		slog.Info("job completed", "job_id", job.ID, "text_id", job.TextID, "sentences", persisted, "duration_ms", elapsed.Milliseconds())

	case models.JobPaused:
		s.metrics.Inc(metrics.CountJobsPaused, 1)
		slog.Warn("job paused", "job_id", job.ID, "text_id", job.TextID, "sentences", persisted, "retry_in", s.backoff)

		if err := s.scheduler.Schedule(context.WithoutCancel(ctx), job.TextID, s.backoff); err != nil {
			slog.Error("failed to reschedule paused job", "job_id", job.ID, "error", err)
		}

	case models.JobPending:
		slog.Info("job interrupted", "job_id", job.ID, "text_id", job.TextID, "sentences", persisted)

	default:
		s.metrics.Inc(metrics.CountJobsFailed, 1)
		slog.Error("job failed", "job_id", job.ID, "text_id", job.TextID, "kind", Kind(runErr), "error", runErr)
	}
}

// updateJob persists job bookkeeping. It survives cancellation of ctx.
// Failures other than a lost lease are only logged.
func (s *IngestService) updateJob(ctx context.Context, jobID string, update models.JobUpdate) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()
	err := s.store.UpdateJob(ctx, jobID, update)
	if err != nil && !errors.Is(err, models.ErrLeaseLost) {
		slog.Warn("failed to persist job update", "job_id", jobID, "status", update.Status, "error", err)
	}
	return err
}
