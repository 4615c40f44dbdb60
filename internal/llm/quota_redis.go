package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// reserveScript keeps one sorted set of admission times (server clock, unix
// ms). Entries older than the window are trimmed; a free slot is taken by
// adding a unique member, otherwise the script returns the milliseconds
// until the oldest entry leaves the window.
var reserveScript = goredis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) < limit then
	redis.call('ZADD', KEYS[1], now, ARGV[3])
	redis.call('PEXPIRE', KEYS[1], window)
	return 0
end

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return math.max(tonumber(oldest[2]) + window - now, 1)
`)

// RedisQuotaOptions configures a RedisQuota.
type RedisQuotaOptions struct {
	Addr   string
	Key    string
	Limit  int
	Window time.Duration
}

// RedisQuota is a sliding-window Quota shared by every instance that uses
// the same key. The check and the admission run as one script, and the
// Redis server clock orders admissions from all instances.
type RedisQuota struct {
	rdb    *goredis.Client
	key    string
	limit  int
	window time.Duration
}

var _ Quota = (*RedisQuota)(nil)

// NewRedisQuota connects and pings the server.
func NewRedisQuota(ctx context.Context, opts RedisQuotaOptions) (*RedisQuota, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if opts.Key == "" {
		opts.Key = "echoes:gate"
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
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

	return &RedisQuota{rdb: rdb, key: opts.Key, limit: opts.Limit, window: opts.Window}, nil
}

// Reserve implements Quota.
func (q *RedisQuota) Reserve(ctx context.Context) (time.Duration, error) {
	wait, err := reserveScript.Run(ctx, q.rdb, []string{q.key},
		q.window.Milliseconds(), q.limit, uuid.NewString()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis quota %s: %w", q.key, err)
	}
	return time.Duration(wait) * time.Millisecond, nil
}

// Close closes the Redis client.
func (q *RedisQuota) Close() error {
	return q.rdb.Close()
}
