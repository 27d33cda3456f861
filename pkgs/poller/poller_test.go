package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(maxAttempts int) Options {
	return Options{
		Kind:        "test",
		Interval:    time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func TestPollSucceedsOnFirstTruthyAttempt(t *testing.T) {
	attempts := 0
	ok, err := Poll(context.Background(), NewToken(), func(ctx context.Context) (bool, error) {
		attempts++
		return attempts == 3, nil
	}, fastOptions(10))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, attempts)
}

func TestPollExhaustsAttempts(t *testing.T) {
	attempts := 0
	ok, err := Poll(context.Background(), NewToken(), func(ctx context.Context) (bool, error) {
		attempts++
		return false, nil
	}, fastOptions(5))

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, attempts)
}

func TestPollRetriesThroughErrors(t *testing.T) {
	attempts := 0
	ok, err := Poll(context.Background(), NewToken(), func(ctx context.Context) (bool, error) {
		attempts++
		if attempts < 3 {
			return false, errors.New("transient rpc error")
		}
		return true, nil
	}, fastOptions(10))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, attempts)
}

func TestPollTokenCancellation(t *testing.T) {
	token := NewToken()
	started := make(chan struct{})

	go func() {
		<-started
		token.Cancel()
	}()

	attempts := 0
	ok, err := Poll(context.Background(), token, func(ctx context.Context) (bool, error) {
		attempts++
		if attempts == 1 {
			close(started)
		}
		return false, nil
	}, Options{Kind: "test", Interval: 50 * time.Millisecond, MaxAttempts: 100})

	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, attempts, 100)
}

func TestPollContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := Poll(ctx, NewToken(), func(ctx context.Context) (bool, error) {
		t.Fatal("check must not run after context cancellation")
		return false, nil
	}, fastOptions(5))

	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPollReportsProgress(t *testing.T) {
	var seen []int
	opts := fastOptions(4)
	opts.OnProgress = func(attempt, maxAttempts int) {
		assert.Equal(t, 4, maxAttempts)
		seen = append(seen, attempt)
	}

	_, err := Poll(context.Background(), NewToken(), func(ctx context.Context) (bool, error) {
		return false, nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestLeaseExclusivity(t *testing.T) {
	registry := NewLeaseRegistry()
	key := SubmissionKey(12, 7)

	lease, err := registry.Acquire(key)
	require.NoError(t, err)
	assert.True(t, registry.Active(key))

	// Re-entrant acquire fails without touching the original lease.
	_, err = registry.Acquire(key)
	assert.ErrorIs(t, err, ErrAlreadyHeld)
	assert.False(t, lease.Token().Cancelled())

	lease.Release()
	assert.False(t, registry.Active(key))
	assert.True(t, lease.Token().Cancelled())

	// Key is reusable after release.
	again, err := registry.Acquire(key)
	require.NoError(t, err)
	again.Release()
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	registry := NewLeaseRegistry()

	lease, err := registry.Acquire("a")
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	// A later holder of the same key must not be evicted by the stale
	// handle's Release.
	second, err := registry.Acquire("a")
	require.NoError(t, err)
	lease.Release()
	assert.True(t, registry.Active("a"))
	second.Release()
}

func TestCancelAllStopsEverything(t *testing.T) {
	registry := NewLeaseRegistry()

	first, err := registry.Acquire("a")
	require.NoError(t, err)
	second, err := registry.Acquire("b")
	require.NoError(t, err)

	registry.CancelAll()

	assert.True(t, first.Token().Cancelled())
	assert.True(t, second.Token().Cancelled())
	assert.Empty(t, registry.Keys())
}
