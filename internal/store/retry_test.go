package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryOnConflictStopsOnSuccess(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrVersionConflict
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return ErrVersionConflict
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 2, calls)
}

func TestRetryOnConflictDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetryOnConflict(context.Background(), DefaultRetryPolicy(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflictHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryOnConflict(ctx, RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return ErrVersionConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
