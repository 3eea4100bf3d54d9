package limit

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// TransientError marks an error class safe to retry for idempotent calls.
type TransientError interface {
	Transient() bool
}

// Transient reports whether err belongs to the retryable class: timeouts,
// connection failures, or a remote status indicating overload or transient
// server failure.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// RetryPolicy decides whether and when a failed call is retried. Its backoff
// state is independent of the connection manager's reconnect backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ShouldRetry returns true only for transient errors while attempt is below
// the configured maximum. Attempt numbering starts at 1 for the first failure.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return Transient(err)
}

// Delay returns the jittered exponential backoff before the given attempt,
// capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	backoff := p.BaseDelay
	if backoff <= 0 {
		backoff = time.Second
	}
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if p.MaxDelay > 0 && backoff >= p.MaxDelay {
			backoff = p.MaxDelay
			break
		}
	}

	// Jitter: backoff * (0.5 to 1.5)
	return backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
}

// Wait sleeps for the backoff before the given attempt, honoring ctx.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay(attempt)):
		return nil
	}
}
