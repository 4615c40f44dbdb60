package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Local delivers tasks in-process with timers. Pending tasks are lost on exit;
// ResumeIncompleteJobs re-schedules them at the next start.
type Local struct {
	log *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	handler Handler
	pending []string
	timers  map[*time.Timer]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// Compile-time check that Local implements Scheduler.
var _ Scheduler = (*Local)(nil)

// NewLocal creates an in-process scheduler.
func NewLocal(log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{log: log, timers: make(map[*time.Timer]struct{})}
}

// Schedule fires the handler after delay. Tasks scheduled before Start are
// buffered and delivered once a handler is registered.
func (l *Local) Schedule(_ context.Context, textID string, delay time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, t)
		if l.closed {
			l.mu.Unlock()
			return
		}
		if l.handler == nil {
			l.pending = append(l.pending, textID)
			l.mu.Unlock()
			return
		}
		l.dispatchLocked(textID)
		l.mu.Unlock()
	})
	l.timers[t] = struct{}{}
	return nil
}

// dispatchLocked runs the handler in its own goroutine. Caller must hold l.mu.
func (l *Local) dispatchLocked(textID string) {
	ctx, h := l.ctx, l.handler
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("task handler panic", "text_id", textID, "panic", r)
			}
		}()
		h(ctx, textID)
	}()
}

// Start registers h and flushes buffered tasks.
func (l *Local) Start(ctx context.Context, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.ctx = ctx
	l.handler = h
	for _, id := range l.pending {
		l.dispatchLocked(id)
	}
	l.pending = nil

	go func() {
		<-ctx.Done()
		l.Close()
	}()
}

// Close stops all timers and waits for running handlers.
func (l *Local) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.pending = nil
	l.mu.Unlock()

	l.wg.Wait()
}
