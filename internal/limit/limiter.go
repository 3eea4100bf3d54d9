package limit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrAcquireTimeout is returned when no request slot became available in time.
var ErrAcquireTimeout = errors.New("rate limiter: acquire timeout")

// Limiter bounds request rate to at most Requests per Window across all
// callers. Callers block in Acquire until a slot is available.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter allowing requests per window.
func NewLimiter(requests int, window time.Duration) *Limiter {
	if requests < 1 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests),
	}
}

// Acquire blocks until a request slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// AcquireTimeout blocks until a slot is available or the timeout elapses.
func (l *Limiter) AcquireTimeout(ctx context.Context, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.limiter.Wait(wctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrAcquireTimeout
	}
	return nil
}
