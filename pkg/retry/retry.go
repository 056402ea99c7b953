// Package retry provides a bounded retry loop with jittered exponential
// backoff for operations that are not already wrapped in a failsafe policy.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds the retry loop
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy retries twice more after the first failure
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is worth retrying
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, fails permanently, runs out of attempts, or
// the context is cancelled. The backoff doubles per attempt with up to 50%
// jitter added.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	backoff := policy.InitialBackoff

	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleep := backoff
		if half := int64(backoff / 2); half > 0 {
			sleep += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		if backoff *= 2; backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return err
}
