package llm

import (
	"context"
	"sync"
	"time"
)

// Quota caps how many calls start in any rolling window.
type Quota interface {
	// Reserve records an admission and returns zero, or returns how long to
	// wait before asking again. A caller that gives up waiting owes nothing.
	Reserve(ctx context.Context) (time.Duration, error)
}

// WindowQuota is an in-process sliding log of the last Limit admissions. A
// call is admitted when fewer than Limit calls started within the past
// Window, so no window of that length ever holds more than Limit starts.
type WindowQuota struct {
	limit  int
	window time.Duration
	clock  Clock

	mu     sync.Mutex
	admits []time.Time // ring buffer, oldest at next once full
	next   int
}

// NewWindowQuota creates an in-process quota.
func NewWindowQuota(limit int, window time.Duration, clock Clock) *WindowQuota {
	return &WindowQuota{
		limit:  limit,
		window: window,
		clock:  clock,
		admits: make([]time.Time, 0, limit),
	}
}

// Reserve implements Quota.
func (q *WindowQuota) Reserve(context.Context) (time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	if len(q.admits) < q.limit {
		q.admits = append(q.admits, now)
		return 0, nil
	}
	if wait := q.admits[q.next].Add(q.window).Sub(now); wait > 0 {
		return wait, nil
	}
	q.admits[q.next] = now
	q.next = (q.next + 1) % q.limit
	return 0, nil
}
