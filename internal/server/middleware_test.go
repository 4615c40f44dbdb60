package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.maxLen))
		})
	}
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		delay   time.Duration
		wantMsg string
		level   string
	}{
		{"ok", http.StatusOK, 0, "request completed", "DEBUG"},
		{"slow", http.StatusOK, 150 * time.Millisecond, "slow request", "WARN"},
		{"server error", http.StatusInternalServerError, 0, "request failed", "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs?textId=x", nil))

			out := buf.String()
			assert.Contains(t, out, tt.wantMsg)
			assert.Contains(t, out, "level="+tt.level)
			assert.Contains(t, out, "path=/api/jobs")
			assert.Contains(t, out, `query="textId=x"`)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor("active_job"))
	assert.Equal(t, http.StatusTooManyRequests, statusFor("rate_limited"))
	assert.Equal(t, http.StatusBadGateway, statusFor("provider"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("storage"))
}
