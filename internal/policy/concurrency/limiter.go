// Package concurrency bounds the number of in-flight upstream requests.
//
// Waiters are admitted strictly in arrival order and none are dropped: a
// request that cannot get a permit queues until one is released or its
// context ends.
package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/einthusan-addon/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// DefaultPermits is used when New receives a non-positive count.
const DefaultPermits = 20

// Limiter is a FIFO counting semaphore.
type Limiter struct {
	sem     *semaphore.Weighted
	permits int
	inUse   atomic.Int64
	waiting atomic.Int64
}

// New returns a Limiter with the given number of permits.
func New(permits int) *Limiter {
	if permits <= 0 {
		permits = DefaultPermits
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(permits)),
		permits: permits,
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	n := l.inUse.Add(1)
	metrics.ObserveLimiterWait(time.Since(start))
	metrics.SetLimiterInUse(int(n))
	return nil
}

// Release returns a permit. It must be paired with a successful Acquire.
func (l *Limiter) Release() {
	n := l.inUse.Add(-1)
	l.sem.Release(1)
	metrics.SetLimiterInUse(int(n))
}

// Do runs fn while holding a permit.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Permits returns the configured capacity.
func (l *Limiter) Permits() int { return l.permits }

// InUse returns the number of permits currently held.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }

// Waiting returns the number of callers blocked in Acquire.
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }
