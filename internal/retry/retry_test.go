package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: connection reset", repository.ErrUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: timeout", repository.ErrUnavailable)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, retry.ErrExhausted))
	assert.True(t, errors.Is(err, repository.ErrUnavailable), "last cause stays reachable")

	var exhausted *retry.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return repository.ErrNotFound
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, errors.Is(err, retry.ErrExhausted))
}

func TestDo_SingleAttemptPolicy(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(0), func(ctx context.Context) error {
		calls++
		return repository.ErrUnavailable
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, retry.ErrExhausted))
}
