package pacing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func testPolicy(maxAttempts uint) RetryPolicy {
	return RetryPolicy{BaseDelay: time.Millisecond, MaxAttempts: maxAttempts, Jitter: 0}
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errTransient) })

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := testPolicy(5).Do(context.Background(), func() error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errTransient) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), func() error {
		calls++
		return errTransient
	}, func(err error) bool { return errors.Is(err, errTransient) })

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testPolicy(5).Do(ctx, func() error {
		return errTransient
	}, func(err error) bool { return true })

	assert.Error(t, err)
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(1000, 1)
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLimiter_WaitCancelled(t *testing.T) {
	// One token per hour, bucket drained: the second Wait can only end
	// through the context.
	l := NewLimiter(1.0/3600, 1)
	assert.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}
