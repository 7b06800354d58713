package store

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds how a read-modify-write cycle is repeated after a
// version conflict.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// RetryOnConflict runs fn until it returns something other than
// ErrVersionConflict or the attempts run out. The delay doubles from BaseDelay
// up to MaxDelay, with up to 50% jitter added.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := policy.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, ErrVersionConflict) || attempt == attempts {
			return err
		}

		wait := delay
		if wait > 0 {
			wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return err
}
