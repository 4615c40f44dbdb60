package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	claimBatch          = 16
)

// RedisOptions configures a Redis scheduler.
type RedisOptions struct {
	Addr         string
	Key          string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Redis is a delayed queue on a sorted set: members are text IDs, scores are
// due times in unix milliseconds. Workers claim due members with ZREM, so a
// member is delivered to exactly one worker per scheduling.
type Redis struct {
	rdb  *goredis.Client
	key  string
	poll time.Duration
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compile-time check that Redis implements Scheduler.
var _ Scheduler = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if opts.Key == "" {
		opts.Key = "echoes:process"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{rdb: rdb, key: opts.Key, poll: opts.PollInterval, log: opts.Logger}, nil
}

// Schedule adds the text with its due time. If the text is already queued the
// earlier due time wins.
func (r *Redis) Schedule(ctx context.Context, textID string, delay time.Duration) error {
	due := time.Now().Add(delay).UnixMilli()
	err := r.rdb.ZAddArgs(ctx, r.key, goredis.ZAddArgs{
		LT:      true,
		Members: []goredis.Z{{Score: float64(due), Member: textID}},
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule text %s: %w", textID, err)
	}
	return nil
}

// Start launches the polling worker.
func (r *Redis) Start(ctx context.Context, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()
		for {
			r.drain(ctx, h)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// drain claims and dispatches every due member.
func (r *Redis) drain(ctx context.Context, h Handler) {
	for ctx.Err() == nil {
		ids, err := r.rdb.ZRangeByScore(ctx, r.key, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
			Count: claimBatch,
		}).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Warn("poll redis queue failed", "key", r.key, "error", err)
			}
			return
		}
		if len(ids) == 0 {
			return
		}

		for _, id := range ids {
			removed, err := r.rdb.ZRem(ctx, r.key, id).Result()
			if err != nil {
				r.log.Warn("claim task failed", "text_id", id, "error", err)
				continue
			}
			if removed == 0 {
				// Another worker claimed it.
				continue
			}
			r.dispatch(ctx, h, id)
		}
	}
}

func (r *Redis) dispatch(ctx context.Context, h Handler, textID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("task handler panic", "text_id", textID, "panic", rec)
			}
		}()
		h(ctx, textID)
	}()
}

// Pending returns how many tasks are queued, due or not.
func (r *Redis) Pending(ctx context.Context) (int64, error) {
	return r.rdb.ZCard(ctx, r.key).Result()
}

// Close stops the worker, waits for running handlers and closes the client.
func (r *Redis) Close() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
	if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		r.log.Warn("close redis client", "error", err)
	}
}
