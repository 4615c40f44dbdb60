package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/echoes/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// GateOptions configures a Gate.
type GateOptions struct {
	Limit       int           // calls allowed in any Window
	Window      time.Duration // rolling quota window
	Concurrency int           // calls in flight at once
	Clock       Clock
	Metrics     *metrics.Collector
	// Quota replaces the in-process window, e.g. with a RedisQuota that
	// every instance shares. Limit and Window then only feed the default.
	Quota Quota
}

// Gate admits embedding calls under a rolling quota and a concurrency cap.
// One Gate is shared by every caller of a provider.
type Gate struct {
	quota   Quota
	sem     *semaphore.Weighted
	clock   Clock
	metrics *metrics.Collector
}

// NewGate creates a gate. Zero values fall back to 100 calls per minute, one at a time.
func NewGate(opts GateOptions) *Gate {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Quota == nil {
		opts.Quota = NewWindowQuota(opts.Limit, opts.Window, opts.Clock)
	}

	return &Gate{
		quota:   opts.Quota,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
}

// Acquire blocks until the call may proceed. The returned release must be
// called once the provider call finishes. A cancelled wait consumes no quota.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	start := g.clock.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for embedding slot: %w", err)
	}

	for {
		delay, err := g.quota.Reserve(ctx)
		if err != nil {
			g.sem.Release(1)
			return nil, fmt.Errorf("reserve embedding quota: %w", err)
		}
		if delay <= 0 {
			break
		}

		slog.Debug("embedding gate waiting", "delay_ms", delay.Milliseconds())
		select {
		case <-g.clock.After(delay):
		case <-ctx.Done():
			g.sem.Release(1)
			return nil, fmt.Errorf("wait for embedding quota: %w", ctx.Err())
		}
	}

	g.metrics.RecordTiming(metrics.OpGateWait, g.clock.Now().Sub(start))
	return func() { g.sem.Release(1) }, nil
}
