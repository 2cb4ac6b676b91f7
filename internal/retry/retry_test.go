package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	var attempts []int
	err := Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errFlaky)
	})

	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errFlaky)
}

func TestDoRetryableFilter(t *testing.T) {
	other := errors.New("other")
	calls := 0
	p := Policy{
		MaxAttempts: 4,
		Retryable:   func(err error) bool { return errors.Is(err, errFlaky) },
	}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return errFlaky
		}
		return other
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, other)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 3, Delay: time.Hour}.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errFlaky
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errFlaky)
}

func TestDoPermanentOnLastAttempt(t *testing.T) {
	err := Policy{MaxAttempts: 2}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt == 2 {
			return Permanent(errFlaky)
		}
		return errFlaky
	})

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errFlaky)
	assert.NotContains(t, err.Error(), "gave up")
}

func TestBackOffSchedule(t *testing.T) {
	fixed := Policy{Delay: 5 * time.Second}.backOff()
	assert.Equal(t, 5*time.Second, fixed.NextBackOff())
	assert.Equal(t, 5*time.Second, fixed.NextBackOff())

	capped := Policy{Delay: 5 * time.Second, MaxDelay: time.Second}.backOff()
	assert.Equal(t, time.Second, capped.NextBackOff())

	exp := Policy{Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}.backOff()
	assert.Equal(t, 100*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 300*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 300*time.Millisecond, exp.NextBackOff())
}
