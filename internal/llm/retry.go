package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for Gemini API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// permanentError marks an error as non-retryable regardless of its message.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// permanent wraps err so executeWithRetry fails immediately.
func permanent(err error) error {
	return &permanentError{err: err}
}

// retryableError determines if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var p *permanentError
	if errors.As(err, &p) {
		return false
	}

	errStr := err.Error()

	// Rate limit errors - always retry
	if containsAny(errStr, "rate limit", "quota exceeded", "429") {
		return true
	}

	// Transient server errors - retry
	if containsAny(errStr, "500", "502", "503", "504", "unavailable") {
		return true
	}

	// Network errors - retry
	if containsAny(errStr, "connection reset", "timeout", "temporary") {
		return true
	}

	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// executeWithRetry runs fn with exponential backoff retry.
// Each attempt is rate limited, so retries cannot amplify load on the
// provider during an outage.
func (c *Client) executeWithRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	delay := c.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		err := fn(ctx)
		if err == nil {
			c.logger.Debug("model call succeeded",
				"op", op,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return nil
		}

		lastErr = err

		// Non-retryable error - fail immediately
		if !retryableError(err) {
			var p *permanentError
			if errors.As(err, &p) {
				return p.err
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		// Last attempt - don't sleep
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying after error",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return fmt.Errorf("%s after %d retries (elapsed: %v): %w",
		op, c.retry.MaxRetries, time.Since(start), lastErr)
}
