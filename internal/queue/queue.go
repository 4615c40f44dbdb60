// Package queue schedules delayed text-processing tasks.
//
// Delivery is at-least-once: a handler may see the same text more than once
// and must treat repeated deliveries as no-ops.
package queue

import (
	"context"
	"time"
)

// Handler processes one delivered text ID.
type Handler func(ctx context.Context, textID string)

// Scheduler enqueues a text for processing after a delay.
type Scheduler interface {
	Schedule(ctx context.Context, textID string, delay time.Duration) error
	// Start begins delivering tasks to h until ctx is cancelled or Close is called.
	Start(ctx context.Context, h Handler)
	Close()
}
