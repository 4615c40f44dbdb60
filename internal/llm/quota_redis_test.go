package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisQuotaSharedBetweenInstances(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	opts := RedisQuotaOptions{Addr: addr, Key: "test:gate", Limit: 3, Window: 2 * time.Second}
	a, err := NewRedisQuota(ctx, opts)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisQuota(ctx, opts)
	require.NoError(t, err)
	defer b.Close()

	for _, q := range []*RedisQuota{a, b, a} {
		wait, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Zero(t, wait)
	}

	// The window is full for both instances.
	for _, q := range []*RedisQuota{a, b} {
		wait, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Greater(t, wait, time.Duration(0))
		assert.LessOrEqual(t, wait, 2*time.Second)
	}
}

func TestGateWithRedisQuota(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	const window = 300 * time.Millisecond
	a, err := NewRedisQuota(ctx, RedisQuotaOptions{Addr: addr, Key: "test:gate-wait", Limit: 2, Window: window})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisQuota(ctx, RedisQuotaOptions{Addr: addr, Key: "test:gate-wait", Limit: 2, Window: window})
	require.NoError(t, err)
	defer b.Close()

	gateA := NewGate(GateOptions{Concurrency: 2, Quota: a})
	gateB := NewGate(GateOptions{Concurrency: 2, Quota: b})

	start := time.Now()
	for _, g := range []*Gate{gateA, gateB, gateA} {
		release, err := g.Acquire(ctx)
		require.NoError(t, err)
		release()
	}
	// The third call had to wait for the first to leave the shared window.
	assert.GreaterOrEqual(t, time.Since(start), window-10*time.Millisecond)
}
