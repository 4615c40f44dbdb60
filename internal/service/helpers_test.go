package service_test

import (
	"context"
	"database/sql"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/echoes/internal/blob"
	"github.com/raphaelgruber/echoes/internal/llm"
	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/parser"
	"github.com/raphaelgruber/echoes/internal/queue"
	"github.com/raphaelgruber/echoes/internal/service"
	"github.com/raphaelgruber/echoes/internal/sqlite"
)

const testDimension = 3

// fakeProvider returns fixed vectors for known texts and a hash-derived
// vector otherwise. failOn makes the n-th call (1-based) fail with err.
// before, when set, runs ahead of every call outside the lock.
type fakeProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   [][]string
	failOn  map[int]error
	before  func(ctx context.Context) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{vectors: map[string][]float32{}, failOn: map[int]error{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Embed(ctx context.Context, texts []string, _ llm.Mode) ([][]float32, error) {
	if p.before != nil {
		if err := p.before(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	if err, ok := p.failOn[len(p.calls)]; ok {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := p.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(t)
	}
	return out, nil
}

// holdFirstCall blocks the first Embed call until release is closed or its
// context ends. entered is closed once that call is waiting.
func (p *fakeProvider) holdFirstCall() (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	p.before = func(ctx context.Context) error {
		first := false
		once.Do(func() { first = true })
		if !first {
			return nil
		}
		close(in)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return in, release
}

func (p *fakeProvider) embedded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []string
	for _, c := range p.calls {
		all = append(all, c...)
	}
	return all
}

func hashVector(s string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum32()
	return []float32{
		float32(sum&0xff)/255 + 0.1,
		float32((sum>>8)&0xff)/255 + 0.1,
		float32((sum>>16)&0xff)/255 + 0.1,
	}
}

type scheduled struct {
	textID string
	delay  time.Duration
}

// fakeScheduler records schedules; tests drive delivery by hand.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

var _ queue.Scheduler = (*fakeScheduler)(nil)

func (s *fakeScheduler) Schedule(_ context.Context, textID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scheduled{textID, delay})
	return nil
}

func (s *fakeScheduler) Start(context.Context, queue.Handler) {}
func (s *fakeScheduler) Close()                               {}

func (s *fakeScheduler) scheduled() []scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduled(nil), s.calls...)
}

type env struct {
	dbPath    string
	store     *sqlite.Store
	blobs     *blob.Local
	provider  *fakeProvider
	scheduler *fakeScheduler
	ingest    *service.IngestService
	jobs      *service.JobManager
	texts     *service.TextService
	convs     *service.ConversationService
}

type envOption func(*service.IngestOptions, *service.ConversationOptions)

func withBatch(size, tokens int) envOption {
	return func(o *service.IngestOptions, _ *service.ConversationOptions) {
		o.Batch = parser.BatchOptions{MaxBatchSize: size, MaxTokens: tokens}
	}
}

func withLease(d time.Duration) envOption {
	return func(o *service.IngestOptions, _ *service.ConversationOptions) {
		o.Lease = d
	}
}

func withRandomColdStart() envOption {
	return func(_ *service.IngestOptions, o *service.ConversationOptions) {
		o.RandomColdStart = true
	}
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "echoes.db")
	store, err := sqlite.Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	provider := newFakeProvider()
	gate := llm.NewGate(llm.GateOptions{Limit: 10000, Window: time.Second})
	embedder := llm.NewEmbedder(provider, gate, llm.EmbedderOptions{Dimension: testDimension})
	sched := &fakeScheduler{}

	ingestOpts := service.IngestOptions{PauseBackoff: 90 * time.Second}
	convOpts := service.ConversationOptions{}
	for _, o := range opts {
		o(&ingestOpts, &convOpts)
	}

	ingest := service.NewIngestService(store, blobs, embedder, sched, ingestOpts)
	return &env{
		dbPath:    dbPath,
		store:     store,
		blobs:     blobs,
		provider:  provider,
		scheduler: sched,
		ingest:    ingest,
		jobs:      newJobManager(store, sched, ingestOpts),
		texts:     service.NewTextService(store, blobs, ingest),
		convs:     service.NewConversationService(store, embedder, convOpts),
	}
}

func newJobManager(store service.Store, sched queue.Scheduler, opts service.IngestOptions) *service.JobManager {
	return service.NewJobManager(store, sched, service.JobManagerOptions{
		PauseBackoff: opts.PauseBackoff,
		Lease:        opts.Lease,
		Concurrency:  2,
	})
}

// instance is a second engine process sharing the env's store and blobs.
type instance struct {
	provider  *fakeProvider
	scheduler *fakeScheduler
	ingest    *service.IngestService
	jobs      *service.JobManager
}

func (e *env) secondInstance(opts ...envOption) *instance {
	provider := newFakeProvider()
	gate := llm.NewGate(llm.GateOptions{Limit: 10000, Window: time.Second})
	embedder := llm.NewEmbedder(provider, gate, llm.EmbedderOptions{Dimension: testDimension})
	sched := &fakeScheduler{}

	ingestOpts := service.IngestOptions{PauseBackoff: 90 * time.Second}
	for _, o := range opts {
		o(&ingestOpts, &service.ConversationOptions{})
	}
	return &instance{
		provider:  provider,
		scheduler: sched,
		ingest:    service.NewIngestService(e.store, e.blobs, embedder, sched, ingestOpts),
		jobs:      newJobManager(e.store, sched, ingestOpts),
	}
}

// rawDB opens a second connection to the env's database for planting rows
// the store API cannot produce.
func (e *env) rawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+e.dbPath+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func (e *env) upload(t *testing.T, writer, title, content string) *models.Text {
	t.Helper()
	text, err := e.texts.Upload(t.Context(), writer, title, strings.NewReader(content))
	require.NoError(t, err)
	return text
}

// ingestText starts a job for the text, delivers it and returns the final job.
func (e *env) ingestText(t *testing.T, textID string) *models.Job {
	t.Helper()
	job, err := e.jobs.StartIngestion(t.Context(), textID)
	require.NoError(t, err)
	e.ingest.RunText(t.Context(), textID)

	job, err = e.jobs.JobStatus(t.Context(), job.ID)
	require.NoError(t, err)
	return job
}
