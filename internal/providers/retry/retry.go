package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	moderr "github.com/lizzyg/qwenai/errors"
)

// Config holds retry configuration parameters
type Config struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	JitterRatio float64       `json:"jitter_ratio"`
	// Budget bounds all attempts and the waits between them.
	Budget time.Duration `json:"budget"`

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		JitterRatio: 0.25, // 25% jitter
		Budget:      30 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.JitterRatio < 0 {
		c.JitterRatio = 0
	}
	return c
}

// Backoff returns the wait before retry number attempt (1-based), without jitter.
func (c Config) Backoff(attempt int) time.Duration {
	c = c.normalized()
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}
	return delay
}

// WithRetry performs exponential backoff retries on transient errors.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithRetryConfig(ctx, fn, DefaultConfig())
}

// WithRetryConfig performs exponential backoff retries with custom configuration.
func WithRetryConfig(ctx context.Context, fn func(ctx context.Context) error, config Config) error {
	_, err := Do(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn until it succeeds, fails with a non-transient error, runs out of
// attempts, or exhausts the budget. fn receives the budget context. When the
// caller's ctx is cancelled its error is returned as is and nothing is retried.
func Do[T any](ctx context.Context, config Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	config = config.normalized()

	budgetCtx, cancel := ctx, context.CancelFunc(func() {})
	if config.Budget > 0 {
		budgetCtx, cancel = context.WithTimeout(ctx, config.Budget)
	}
	defer cancel()

	var attempt int
	for {
		v, err := fn(budgetCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if budgetCtx.Err() != nil {
			return zero, timeoutError(attempt+1, err)
		}
		if !IsTransient(err) {
			return zero, err
		}
		attempt++
		if attempt >= config.MaxAttempts {
			return zero, err
		}
		delay := config.Backoff(attempt)
		var he *HTTPStatusError
		if errors.As(err, &he) && he.RetryAfter > delay {
			delay = min(he.RetryAfter, config.MaxDelay)
		}
		// Add randomized jitter to prevent thundering herd
		delay += time.Duration(rand.Float64() * config.JitterRatio * float64(delay))
		if deadline, ok := budgetCtx.Deadline(); ok && time.Until(deadline) < delay {
			return zero, timeoutError(attempt, err)
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-budgetCtx.Done():
			timer.Stop()
			return zero, timeoutError(attempt, err)
		case <-timer.C:
		}
	}
}

func timeoutError(attempts int, last error) error {
	return fmt.Errorf("%w after %d attempt(s): %w", moderr.ErrTimeout, attempts, last)
}

// HTTPStatusError wraps HTTP status codes to enable reliable retry decisions.
// Body must already be redacted by the caller.
type HTTPStatusError struct {
	Status     int           `json:"status"`
	Body       string        `json:"body"`
	Source     string        `json:"source"` // e.g., "qwen", "openrouter"
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

const maxBodyLen = 512

// NewHTTPStatusError creates a new HTTP status error
func NewHTTPStatusError(status int, body, source string) *HTTPStatusError {
	if len(body) > maxBodyLen {
		body = body[:maxBodyLen] + "..."
	}
	return &HTTPStatusError{
		Status: status,
		Body:   body,
		Source: source,
	}
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Source, e.Status, e.Body)
}

// Is maps the status onto the error taxonomy.
func (e *HTTPStatusError) Is(target error) bool {
	switch target {
	case moderr.ErrAuth:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case moderr.ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case moderr.ErrTimeout:
		return e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout
	case moderr.ErrUpstream:
		return e.Status >= 500
	case moderr.ErrBadRequest:
		return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusUnauthorized &&
			e.Status != http.StatusForbidden && e.Status != http.StatusTooManyRequests &&
			e.Status != http.StatusRequestTimeout
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsTransient determines if an error is worth retrying using proper error type checking.
func IsTransient(err error) bool {
	// Retry on 408, 429 or 5xx using proper error type
	var he *HTTPStatusError
	if errors.As(err, &he) {
		if he.Status == http.StatusRequestTimeout || he.Status == http.StatusTooManyRequests || he.Status >= 500 {
			return true
		}
		return false
	}

	// Retry on network timeouts
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return true
		}
	}
	return false
}
