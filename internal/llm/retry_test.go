package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/askdoc/askdoc/internal/log"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialInterval != 500*time.Millisecond {
		t.Errorf("InitialInterval = %v, want 500ms", cfg.InitialInterval)
	}
	if cfg.MaxInterval != 10*time.Second {
		t.Errorf("MaxInterval = %v, want 10s", cfg.MaxInterval)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota", errors.New("Quota Exceeded for project"), true},
		{"429 status", errors.New("googleapi: Error 429"), true},
		{"500 status", errors.New("server error 500"), true},
		{"503 unavailable", errors.New("service unavailable"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"invalid argument", errors.New("invalid argument"), false},
		{"permission denied", errors.New("permission denied"), false},
		{"permanent wrapper", permanent(errors.New("503 unavailable")), false},
		{"wrapped permanent", fmt.Errorf("outer: %w", permanent(errors.New("timeout"))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		substrs []string
		want    bool
	}{
		{"match first", "rate limit hit", []string{"rate limit", "quota"}, true},
		{"match later", "quota exceeded", []string{"rate limit", "quota"}, true},
		{"case insensitive", "Rate Limit Hit", []string{"rate limit"}, true},
		{"no match", "all fine", []string{"rate limit", "quota"}, false},
		{"empty substrs", "anything", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := containsAny(tt.s, tt.substrs...); got != tt.want {
				t.Errorf("containsAny(%q, %v) = %v, want %v", tt.s, tt.substrs, got, tt.want)
			}
		})
	}
}

// retryTestClient builds a Client with fast retry timings and no genai
// connection; executeWithRetry never touches the SDK.
func retryTestClient() *Client {
	return &Client{
		retry: RetryConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		breaker: NewCircuitBreaker(CircuitBreakerConfig{}),
		logger:  log.NewNop(),
	}
}

func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	c := retryTestClient()

	calls := 0
	err := c.executeWithRetry(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("executeWithRetry() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteWithRetry_PermanentErrorFailsFast(t *testing.T) {
	c := retryTestClient()

	calls := 0
	wantErr := errors.New("boom")
	err := c.executeWithRetry(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return permanent(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want wrapped %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestExecuteWithRetry_ExhaustsRetries(t *testing.T) {
	c := retryTestClient()

	calls := 0
	err := c.executeWithRetry(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != c.retry.MaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, c.retry.MaxRetries+1)
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	c := retryTestClient()
	c.retry.InitialInterval = time.Minute // force cancellation during backoff

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.executeWithRetry(ctx, "test", func(ctx context.Context) error {
			return errors.New("503 unavailable")
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("executeWithRetry did not return after cancellation")
	}
}
