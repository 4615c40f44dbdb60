package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) handle(_ context.Context, textID string) {
	r.mu.Lock()
	r.ids = append(r.ids, textID)
	r.mu.Unlock()
	r.ch <- textID
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func TestLocalDeliversAfterDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocal(nil)
	defer q.Close()
	rec := newRecorder()
	q.Start(ctx, rec.handle)

	start := time.Now()
	require.NoError(t, q.Schedule(ctx, "text-1", 50*time.Millisecond))

	assert.Equal(t, "text-1", rec.wait(t))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLocalBuffersUntilStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocal(nil)
	defer q.Close()
	require.NoError(t, q.Schedule(ctx, "early", 0))

	// Let the timer fire with no handler registered.
	time.Sleep(20 * time.Millisecond)

	rec := newRecorder()
	q.Start(ctx, rec.handle)
	assert.Equal(t, "early", rec.wait(t))
}

func TestLocalCloseDropsPending(t *testing.T) {
	ctx := context.Background()
	q := NewLocal(nil)
	rec := newRecorder()
	q.Start(ctx, rec.handle)

	require.NoError(t, q.Schedule(ctx, "late", time.Hour))
	q.Close()

	// Scheduling after close is a silent no-op.
	require.NoError(t, q.Schedule(ctx, "after", 0))
	select {
	case id := <-rec.ch:
		t.Fatalf("unexpected delivery %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalRecoversHandlerPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewLocal(nil)
	defer q.Close()
	rec := newRecorder()
	q.Start(ctx, func(ctx context.Context, id string) {
		if id == "boom" {
			panic("boom")
		}
		rec.handle(ctx, id)
	})

	require.NoError(t, q.Schedule(ctx, "boom", 0))
	require.NoError(t, q.Schedule(ctx, "ok", 10*time.Millisecond))
	assert.Equal(t, "ok", rec.wait(t))
}
