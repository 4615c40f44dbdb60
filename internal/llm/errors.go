package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for embedding calls.
// Use errors.Is() to branch on them.
var (
	// ErrRateLimited means the provider rejected the call because of its quota.
	// The call may succeed later; callers pause instead of failing.
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrProvider is any other provider failure, including timeouts and
	// malformed responses.
	ErrProvider = errors.New("embedding provider error")
)

// classifyError maps a raw provider error to ErrRateLimited or ErrProvider.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProvider) {
		return err
	}
	if isRateLimited(err) {
		return fmt.Errorf("%w: %s: %w", ErrRateLimited, provider, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, provider, err)
}

// isRateLimited recognises the typed quota signals of each provider SDK.
func isRateLimited(err error) bool {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return true
	}
	var quota *types.ServiceQuotaExceededException
	if errors.As(err, &quota) {
		return true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return false
}

// HTTPStatusError records a non-2xx response seen by a provider's HTTP client.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// statusRecorder remembers the worst HTTP status of the requests made
// under one context. SDKs that flatten HTTP errors into strings still
// pass the caller's context to their requests, so the status survives.
type statusRecorder struct {
	mu   sync.Mutex
	code int
}

type statusRecorderKey struct{}

func withStatusRecorder(ctx context.Context) (context.Context, *statusRecorder) {
	rec := &statusRecorder{}
	return context.WithValue(ctx, statusRecorderKey{}, rec), rec
}

func (r *statusRecorder) record(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.code == http.StatusTooManyRequests:
	case code == http.StatusTooManyRequests, code > r.code:
		r.code = code
	}
}

// err returns an HTTPStatusError for the recorded status, or nil if every
// response was successful.
func (r *statusRecorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.code < 300 {
		return nil
	}
	return &HTTPStatusError{StatusCode: r.code}
}

// statusTransport reports response codes to the statusRecorder in the request context.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if resp != nil {
		if rec, ok := req.Context().Value(statusRecorderKey{}).(*statusRecorder); ok {
			rec.record(resp.StatusCode)
		}
	}
	return resp, err
}

// NewHTTPClient returns an HTTP client whose responses feed rate-limit detection.
func NewHTTPClient(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: statusTransport{base: base}}
}
