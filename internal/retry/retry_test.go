package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func alwaysRetry(err error) (bool, time.Duration) { return errors.Is(err, errTransient), 0 }

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestDelayIsExponentialAndCapped(t *testing.T) {
	t.Parallel()

	r := NewRetrier(Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, nil, nil)
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 4*time.Second, r.Delay(3))
	assert.Equal(t, 8*time.Second, r.Delay(4))
	assert.Equal(t, 10*time.Second, r.Delay(5))
	assert.Equal(t, 10*time.Second, r.Delay(9))
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	r := NewRetrier(Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}, alwaysRetry, nil).
		WithSleep(recordingSleep(&waits))

	calls := 0
	attempts, err := r.Do(context.Background(), func(int) error {
		calls++
		return errTransient
	})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, waits)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	r := NewRetrier(Config{MaxAttempts: 5, BaseDelay: time.Second}, alwaysRetry, nil).
		WithSleep(recordingSleep(&waits))

	permanent := errors.New("bad request")
	attempts, err := r.Do(context.Background(), func(int) error { return permanent })

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, waits)
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	r := NewRetrier(Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, alwaysRetry, nil).
		WithSleep(recordingSleep(&waits))

	attempts, err := r.Do(context.Background(), func(attempt int) error {
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, waits, 2)
}

func TestClassifierWaitOverridesShorterBackoff(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	classify := func(error) (bool, time.Duration) { return true, 30 * time.Second }
	r := NewRetrier(Config{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 20 * time.Second}, classify, nil).
		WithSleep(recordingSleep(&waits))

	_, _ = r.Do(context.Background(), func(int) error { return errTransient })
	assert.Equal(t, []time.Duration{20 * time.Second}, waits)
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetrier(Config{MaxAttempts: 5, BaseDelay: time.Hour}, alwaysRetry, nil)
	attempts, err := r.Do(ctx, func(int) error { return errTransient })

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestStatusPolicy(t *testing.T) {
	t.Parallel()

	p := NewStatusPolicy([]int{429, 500, 502, 503, 504, 406})
	for _, code := range []int{429, 500, 502, 503, 504, 406} {
		assert.True(t, p.Retryable(http.MethodPost, code), "POST %d", code)
		assert.True(t, p.Retryable(http.MethodPut, code), "PUT %d", code)
		assert.False(t, p.Retryable(http.MethodGet, code), "GET %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		assert.False(t, p.Retryable(http.MethodPost, code), "POST %d", code)
	}
}
