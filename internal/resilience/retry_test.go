package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	r := NewRetryer(3, nil, nil)

	err := r.Do(context.Background(), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversOnce(t *testing.T) {
	calls := 0
	r := NewRetryer(2, nil, nil)

	err := r.Do(context.Background(), "op", func() error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	r := NewRetryer(3, nil, nil)

	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonMatchingError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	r := NewRetryer(5, func(err error) bool { return errors.Is(err, errTransient) }, nil)

	err := r.Do(context.Background(), "op", func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-matching errors must not be retried")
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	r := NewRetryer(3, nil, nil)
	err := r.Do(ctx, "op", func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryMinimumAttempts(t *testing.T) {
	calls := 0
	r := NewRetryer(0, nil, nil)
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
