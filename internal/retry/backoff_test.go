package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_SucceedsFirstTry(t *testing.T) {
	r := New(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetriesThenSucceeds(t *testing.T) {
	var retries []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }
	r := New(p, nil)

	calls := 0
	v, err := Do(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryer_Exhausted(t *testing.T) {
	r := New(fastPolicy(), nil)
	root := errors.New("down")

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return root
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, 4, calls)
}

func TestRetryer_PermanentStopsImmediately(t *testing.T) {
	r := New(fastPolicy(), nil)
	root := errors.New("bad request")

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(root)
	})

	assert.Equal(t, root, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestRetryer_RespectsTypedRetryable(t *testing.T) {
	r := New(fastPolicy(), nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return types.NewError(types.ErrInvalidRequest, "nope").WithRetryable(false)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		return types.NewError(types.ErrUpstreamError, "502").WithRetryable(true)
	})
	assert.Equal(t, 4, calls)
}

func TestRetryer_ContextCancelled(t *testing.T) {
	p := fastPolicy()
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := New(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("temporary")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryer_DelayBounds(t *testing.T) {
	r := New(Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}, nil)

	assert.Equal(t, 10*time.Millisecond, r.Delay(1))
	assert.Equal(t, 20*time.Millisecond, r.Delay(2))
	assert.Equal(t, 40*time.Millisecond, r.Delay(3))
	assert.Equal(t, 40*time.Millisecond, r.Delay(10))
}
