package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ECHOES_STORE", "")
	t.Setenv("ECHOES_PAUSE_BACKOFF", "")
	t.Setenv("ECHOES_MAX_BATCH_SIZE", "")
	t.Setenv("ECHOES_JOB_LEASE", "")
	t.Setenv("REDIS_GATE_KEY", "")

	cfg := Load()

	assert.Equal(t, StoreSurrealDB, cfg.Store)
	assert.Equal(t, 90*time.Second, cfg.PauseBackoff)
	assert.Equal(t, 2*time.Minute, cfg.JobLease)
	assert.Equal(t, "echoes:gate", cfg.RedisGateKey)
	assert.Equal(t, 96, cfg.MaxBatchSize)
	assert.Equal(t, 32000, cfg.MaxBatchTokens)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
	assert.Equal(t, 1, cfg.EmbedConcurrency)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ECHOES_STORE", StoreSQLite)
	t.Setenv("ECHOES_PAUSE_BACKOFF", "5s")
	t.Setenv("ECHOES_JOB_LEASE", "30s")
	t.Setenv("ECHOES_MAX_BATCH_SIZE", "10")
	t.Setenv("ECHOES_RANDOM_COLD_START", "true")
	t.Setenv("ECHOES_LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.PauseBackoff)
	assert.Equal(t, 30*time.Second, cfg.JobLease)
	assert.Equal(t, 10, cfg.MaxBatchSize)
	assert.True(t, cfg.RandomColdStart)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadInvalidNumberFallsBack(t *testing.T) {
	t.Setenv("ECHOES_MAX_BATCH_TOKENS", "lots")
	t.Setenv("ECHOES_RATE_WINDOW", "soon")

	cfg := Load()

	assert.Equal(t, 32000, cfg.MaxBatchTokens)
	assert.Equal(t, time.Minute, cfg.RateWindow)
}

func TestLoadYAMLFillsUnsetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echoes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("echoes_queue: redis\nredis_addr: cache:6379\n"), 0o600))

	t.Setenv("ECHOES_CONFIG", path)
	t.Setenv("REDIS_ADDR", "explicit:6379")
	// Registered so t.Setenv restores the variable after loadYAML sets it.
	t.Setenv("ECHOES_QUEUE", "")
	require.NoError(t, os.Unsetenv("ECHOES_QUEUE"))

	cfg := Load()

	assert.Equal(t, QueueRedis, cfg.Queue)
	assert.Equal(t, "explicit:6379", cfg.RedisAddr)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("job created", "job_id", "abc")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "job_id=abc")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "job created", entry["msg"])
	assert.Equal(t, "abc", entry["job_id"])
}
