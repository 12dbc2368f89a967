package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes critical sections per key across callers.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = 200 * time.Millisecond
)

// retry calls try until it reports acquired, the wait budget is spent or ctx ends.
func retry(ctx context.Context, wait time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(wait)
	backoff := minBackoff

	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 || time.Now().Add(backoff).After(deadline) {
			return ErrNotAcquired
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
