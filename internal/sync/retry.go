// ABOUTME: Bounded retry with exponential backoff for backend calls
// ABOUTME: Retries transient failures only; context cancellation aborts the loop

package sync

import (
	"context"
	"errors"
	"net"
	"time"
)

// RetryPolicy bounds how often a failed backend call is reattempted.
// Delays double per attempt up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy suits interactive clients: fail within a few seconds
// rather than block the event loop.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Do runs fn, reattempting transient failures with exponential backoff.
// Non-transient errors and context cancellation return immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !transient(err) {
			return err
		}
	}
	return err
}

// transient reports whether an error is worth retrying: timeouts and
// network-level failures. Domain errors (not found, conflict, validation)
// are final.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
