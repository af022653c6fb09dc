package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("broker busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("connection refused")
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("bad credentials")
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(boom)
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_UnlimitedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastPolicy(0), func() error {
		calls++
		if calls == 10 {
			cancel()
		}
		return errors.New("down")
	})

	assert.Error(t, err)
	assert.GreaterOrEqual(t, calls, 10)
}

func TestRetryWithCallback_ReportsAttempts(t *testing.T) {
	var attempts []int
	_ = RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("down")
	}, func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
		assert.Positive(t, next)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{}.WithDefaults()
	d := DefaultPolicy()
	assert.Equal(t, d.InitialInterval, p.InitialInterval)
	assert.Equal(t, d.MaxInterval, p.MaxInterval)
	assert.Equal(t, d.Multiplier, p.Multiplier)
	assert.Zero(t, p.MaxAttempts)

	kept := Policy{InitialInterval: time.Minute, MaxInterval: time.Second, Multiplier: 3}.WithDefaults()
	assert.Equal(t, time.Minute, kept.InitialInterval)
	assert.Equal(t, time.Minute, kept.MaxInterval)
	assert.Equal(t, 3.0, kept.Multiplier)
}
