package nfce

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the real-clock SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry is the solver's attempt policy. MaxAttempts <= 0 means no limit; the
// loop then only ends on success or context cancellation. Sleep replaces the
// real clock for every pause the solver takes.
type Retry struct {
	Delay       time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// DefaultRetry waits five seconds between attempts and never gives up.
func DefaultRetry() Retry {
	return Retry{Delay: 5 * time.Second}
}

// backOff is the constant-delay policy bound to ctx.
func (r Retry) backOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = backoff.NewConstantBackOff(r.Delay)
	if r.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

func (r Retry) timer(ctx context.Context) backoff.Timer {
	return &sleepTimer{ctx: ctx, sleep: r.sleep, c: make(chan time.Time, 1)}
}

func (r Retry) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// sleepTimer runs backoff's waits through a SleepFunc. Start blocks for the
// pause and then fires; cancellation is picked up by the retry loop.
type sleepTimer struct {
	ctx   context.Context
	sleep SleepFunc
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	_ = t.sleep(t.ctx, d)
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }
