// Package app wires every Echoes dependency from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/raphaelgruber/echoes/internal/blob"
	"github.com/raphaelgruber/echoes/internal/config"
	"github.com/raphaelgruber/echoes/internal/db"
	"github.com/raphaelgruber/echoes/internal/llm"
	"github.com/raphaelgruber/echoes/internal/metrics"
	"github.com/raphaelgruber/echoes/internal/parser"
	"github.com/raphaelgruber/echoes/internal/queue"
	"github.com/raphaelgruber/echoes/internal/service"
	"github.com/raphaelgruber/echoes/internal/sqlite"
)

// Compile-time checks that both stores implement the service contract.
var (
	_ service.Store = (*db.Client)(nil)
	_ service.Store = (*sqlite.Store)(nil)
)

// App holds the services and the resources behind them.
type App struct {
	Config    config.Config
	Metrics   *metrics.Collector
	Store     service.Store
	Blobs     blob.Store
	Scheduler queue.Scheduler
	Embedder  *llm.Embedder

	Texts         *service.TextService
	Jobs          *service.JobManager
	Ingest        *service.IngestService
	Conversations *service.ConversationService

	closers []func(ctx context.Context) error
}

// New builds the application. On error every resource opened so far is released.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Metrics: metrics.NewCollector()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	model, dimension, err := llm.ResolveModel(cfg.EmbedProvider, cfg.EmbedModel, cfg.EmbedDimension)
	if err != nil {
		return nil, err
	}
	storedDimension := dimension
	var reducer *llm.Reducer
	if cfg.PCAURL != "" {
		reducer = llm.NewReducer(cfg.PCAURL, cfg.PCADimension, cfg.EmbedTimeout)
		storedDimension = cfg.PCADimension
	}

	if err := a.openStore(ctx, storedDimension); err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	if c, ok := provider.(io.Closer); ok {
		a.addCloser(func(context.Context) error { return c.Close() })
	}

	quota, err := a.openQuota(ctx)
	if err != nil {
		return nil, err
	}
	gate := llm.NewGate(llm.GateOptions{
		Limit:       cfg.RateLimit,
		Window:      cfg.RateWindow,
		Concurrency: cfg.EmbedConcurrency,
		Metrics:     a.Metrics,
		Quota:       quota,
	})
	a.Embedder = llm.NewEmbedder(provider, gate, llm.EmbedderOptions{
		Dimension: dimension,
		Timeout:   cfg.EmbedTimeout,
		Reducer:   reducer,
		Metrics:   a.Metrics,
	})

	tokenizer, err := parser.NewTokenizer(cfg.Tokenizer)
	if err != nil {
		slog.Warn("tokenizer unavailable, counting words instead", "tokenizer", cfg.Tokenizer, "error", err)
		tokenizer = parser.WordTokenizer{}
	}

	if err := a.openBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.openScheduler(ctx); err != nil {
		return nil, err
	}

	a.Ingest = service.NewIngestService(a.Store, a.Blobs, a.Embedder, a.Scheduler, service.IngestOptions{
		Tokenizer:    tokenizer,
		Batch:        parser.BatchOptions{MaxBatchSize: cfg.MaxBatchSize, MaxTokens: cfg.MaxBatchTokens},
		PauseBackoff: cfg.PauseBackoff,
		Lease:        cfg.JobLease,
		Metrics:      a.Metrics,
	})
	a.Jobs = service.NewJobManager(a.Store, a.Scheduler, service.JobManagerOptions{
		PauseBackoff: cfg.PauseBackoff,
		Lease:        cfg.JobLease,
	})
	a.Texts = service.NewTextService(a.Store, a.Blobs, a.Ingest)
	a.Conversations = service.NewConversationService(a.Store, a.Embedder, service.ConversationOptions{
		RandomColdStart: cfg.RandomColdStart,
		Metrics:         a.Metrics,
	})

	slog.Info("app ready",
		"store", cfg.Store,
		"provider", cfg.EmbedProvider,
		"model", model,
		"dimension", storedDimension,
		"blob", cfg.Blob,
		"queue", cfg.Queue)
	return a, nil
}

func (a *App) openStore(ctx context.Context, dimension int) error {
	switch a.Config.Store {
	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       a.Config.SurrealDBURL,
			Namespace: a.Config.SurrealDBNamespace,
			Database:  a.Config.SurrealDBDatabase,
			Username:  a.Config.SurrealDBUser,
			Password:  a.Config.SurrealDBPass,
			AuthLevel: a.Config.SurrealDBAuthLevel,
		}, slog.Default())
		if err != nil {
			return err
		}
		a.addCloser(client.Close)
		if err := client.InitSchema(ctx, dimension); err != nil {
			return err
		}
		a.Store = client

	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, a.Config.SQLitePath)
		if err != nil {
			return err
		}
		a.addCloser(func(context.Context) error { return store.Close() })
		a.Store = store

	default:
		return fmt.Errorf("unsupported store: %s", a.Config.Store)
	}
	return nil
}

func (a *App) openBlobs(ctx context.Context) error {
	switch a.Config.Blob {
	case config.BlobLocal:
		local, err := blob.NewLocal(a.Config.BlobDir)
		if err != nil {
			return err
		}
		a.Blobs = local

	case config.BlobGCS:
		gcs, err := blob.NewGCS(ctx, a.Config.GCSBucket, "texts/")
		if err != nil {
			return err
		}
		a.addCloser(func(context.Context) error { return gcs.Close() })
		a.Blobs = gcs

	default:
		return fmt.Errorf("unsupported blob store: %s", a.Config.Blob)
	}
	return nil
}

func (a *App) openScheduler(ctx context.Context) error {
	switch a.Config.Queue {
	case config.QueueLocal:
		a.Scheduler = queue.NewLocal(slog.Default())

	case config.QueueRedis:
		r, err := queue.NewRedis(ctx, queue.RedisOptions{
			Addr:   a.Config.RedisAddr,
			Key:    a.Config.RedisQueueKey,
			Logger: slog.Default(),
		})
		if err != nil {
			return err
		}
		a.Scheduler = r

	default:
		return fmt.Errorf("unsupported queue: %s", a.Config.Queue)
	}
	return nil
}

// openQuota shares the embedding quota through Redis when workers of several
// processes consume the same queue. A nil quota keeps the gate in-process.
func (a *App) openQuota(ctx context.Context) (llm.Quota, error) {
	if a.Config.Queue != config.QueueRedis {
		return nil, nil
	}
	q, err := llm.NewRedisQuota(ctx, llm.RedisQuotaOptions{
		Addr:   a.Config.RedisAddr,
		Key:    a.Config.RedisGateKey,
		Limit:  a.Config.RateLimit,
		Window: a.Config.RateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("open shared embedding quota: %w", err)
	}
	a.addCloser(func(context.Context) error { return q.Close() })
	return q, nil
}

func (a *App) addCloser(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// StartWorker begins delivering scheduled texts to the ingestion pipeline
// and re-schedules jobs a previous process left unfinished.
func (a *App) StartWorker(ctx context.Context) {
	a.Scheduler.Start(ctx, a.Ingest.RunText)

	n, err := a.Jobs.ResumeIncompleteJobs(ctx)
	if err != nil {
		slog.Warn("failed to resume incomplete jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Info("resumed incomplete jobs", "count", n)
	}
}

// WipeData deletes all data. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	w, ok := a.Store.(interface {
		WipeData(ctx context.Context) error
	})
	if !ok {
		return fmt.Errorf("store %s does not support wiping", a.Config.Store)
	}
	return w.WipeData(ctx)
}

// Close stops the scheduler and releases resources in reverse order.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
