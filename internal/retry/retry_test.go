package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/store"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), "op", nil, nil, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls, retries := 0, 0
	v, err := Do(context.Background(), fastPolicy(5), "apply", nil,
		func(error) { retries++ },
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", store.Transient("apply", errors.New("database is locked"))
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDoStopsOnPermanent(t *testing.T) {
	boom := errors.New("constraint violated")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), "apply", nil, nil, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), "apply", nil, nil, func(context.Context) (int, error) {
		calls++
		return 0, store.Transient("apply", errors.New("connection reset"))
	})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.True(t, store.IsTransient(err))
	assert.Equal(t, 3, calls)

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Attempts)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
}

func TestDoAppliesCallTimeout(t *testing.T) {
	p := fastPolicy(2)
	p.CallTimeout = 5 * time.Millisecond
	calls := 0
	_, err := Do(context.Background(), p, "slow", nil, nil, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestDoDoesNotRetryCancelledCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, fastPolicy(5), "op", nil, nil, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, store.Transient("op", errors.New("interrupted"))
	})
	require.Error(t, err)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}
