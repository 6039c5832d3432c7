package upstream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

func TestRetryPolicyBackoffIsLinearAndCapped(t *testing.T) {
	t.Parallel()
	p := DefaultRetryPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 4 * time.Second},
		{10, 10 * time.Second},
		{25, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v; want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()
	p := DefaultRetryPolicy()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection reset"), true},
		{"server error", &StatusError{Code: 502}, true},
		{"client error", &StatusError{Code: 404}, false},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ShouldRetry(tc.err); got != tc.want {
				t.Fatalf("ShouldRetry(%v) = %v; want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryPolicyDefaultsClampAttempts(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{MaxAttempts: 50}.withDefaults()
	if p.MaxAttempts != MaxAttempts {
		t.Fatalf("expected attempts clamped to %d, got %d", MaxAttempts, p.MaxAttempts)
	}
	if p.RateLimitDelay != 5*time.Second {
		t.Fatalf("expected default rate limit delay, got %v", p.RateLimitDelay)
	}
}

func TestAttemptBudgetSeparatesRateLimits(t *testing.T) {
	t.Parallel()
	b := newAttemptBudget(RetryPolicy{MaxAttempts: 1, RateLimitRetries: 2}.withDefaults(), true)
	rl := &StatusError{Code: 429, Err: catalog.ErrRateLimited}

	b.record(rl)
	if !b.allows(rl) {
		t.Fatal("first rate limit should be retried")
	}
	b.record(rl)
	if !b.allows(rl) {
		t.Fatal("second rate limit should be retried")
	}
	b.record(rl)
	if b.allows(rl) {
		t.Fatal("rate limit budget should be exhausted")
	}
	if b.ordinary != 0 {
		t.Fatalf("rate limits must not consume ordinary attempts, got %d", b.ordinary)
	}
	if got := b.delay(rl); got != 5*time.Second {
		t.Fatalf("expected fixed rate limit delay, got %v", got)
	}
}
