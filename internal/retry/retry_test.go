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
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BoundedAttempts(t *testing.T) {
	calls := 0
	var notified []int
	boom := errors.New("still down")
	err := fastPolicy(4).Do(context.Background(), func(context.Context, int) error {
		calls++
		return boom
	}, func(attempt int, err error, next time.Duration) {
		notified = append(notified, attempt)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, notified)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	notFound := errors.New("404")
	err := fastPolicy(5).Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(notFound)
	}, nil)
	require.ErrorIs(t, err, notFound)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 1}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("x")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := fastPolicy(5).Do(ctx, func(context.Context, int) error {
		calls++
		return nil
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.Nil(t, Permanent(nil))
}
