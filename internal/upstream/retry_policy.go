package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

// Retry limits accepted by the access layer.
const (
	MinAttempts = 1
	MaxAttempts = 5
)

// DefaultRateLimitMarkers are body fragments that identify a throttling page served with a 2xx status.
var DefaultRateLimitMarkers = []string{"Too Many Requests", "rate limit exceeded"}

// StatusError reports an upstream HTTP status the client did not accept.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// RetryPolicy is a linear backoff policy with a separate budget for rate-limited responses.
type RetryPolicy struct {
	MaxAttempts      int
	BackoffStep      time.Duration
	BackoffMax       time.Duration
	RateLimitDelay   time.Duration
	RateLimitRetries int
}

// DefaultRetryPolicy returns the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      4,
		BackoffStep:      time.Second,
		BackoffMax:       10 * time.Second,
		RateLimitDelay:   5 * time.Second,
		RateLimitRetries: 3,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.MaxAttempts > MaxAttempts {
		p.MaxAttempts = MaxAttempts
	}
	if p.BackoffStep <= 0 {
		p.BackoffStep = d.BackoffStep
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = d.BackoffMax
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = d.RateLimitDelay
	}
	if p.RateLimitRetries < 0 {
		p.RateLimitRetries = 0
	}
	return p
}

// Backoff returns the wait before the attempt that follows failed attempt n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(n) * p.BackoffStep
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// ShouldRetry decides whether err is worth another ordinary attempt.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return true
}

// attemptBudget tracks ordinary and rate-limited attempts across one Do call.
type attemptBudget struct {
	policy      RetryPolicy
	replayable  bool
	total       int
	ordinary    int
	rateLimited int
}

func newAttemptBudget(policy RetryPolicy, replayable bool) *attemptBudget {
	return &attemptBudget{policy: policy, replayable: replayable}
}

func (b *attemptBudget) record(err error) {
	b.total++
	if err == nil {
		return
	}
	if errors.Is(err, catalog.ErrRateLimited) {
		b.rateLimited++
		return
	}
	b.ordinary++
}

func (b *attemptBudget) allows(err error) bool {
	if !b.replayable || !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, catalog.ErrRateLimited) {
		return b.rateLimited <= b.policy.RateLimitRetries
	}
	if !b.policy.ShouldRetry(err) {
		return false
	}
	return b.ordinary < b.policy.MaxAttempts
}

func (b *attemptBudget) delay(err error) time.Duration {
	if errors.Is(err, catalog.ErrRateLimited) {
		return b.policy.RateLimitDelay
	}
	return b.policy.Backoff(b.ordinary)
}
