package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFailure = errors.New("failure")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, maxFailures, halfOpenMax int) *Breaker {
	return NewBreaker(Config{
		Name:        "payout",
		MaxFailures: maxFailures,
		Timeout:     time.Second,
		HalfOpenMax: halfOpenMax,
		Now:         clock.Now,
	})
}

func fail() error    { return errFailure }
func succeed() error { return nil }

func TestBreakerClosed(t *testing.T) {
	t.Run("should allow requests when closed", func(t *testing.T) {
		b := newTestBreaker(&fakeClock{}, 3, 1)

		assert.NoError(t, b.Execute(context.Background(), succeed))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should track consecutive failures and reset on success", func(t *testing.T) {
		b := newTestBreaker(&fakeClock{}, 3, 1)

		assert.ErrorIs(t, b.Execute(context.Background(), fail), errFailure)
		assert.Equal(t, 1, b.Failures())

		assert.NoError(t, b.Execute(context.Background(), succeed))
		assert.Equal(t, 0, b.Failures())
	})

	t.Run("should not count cancelled calls", func(t *testing.T) {
		b := newTestBreaker(&fakeClock{}, 1, 1)
		ctx, cancel := context.WithCancel(context.Background())

		err := b.Execute(ctx, func() error {
			cancel()
			return ctx.Err()
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestBreakerOpen(t *testing.T) {
	t.Run("should open after max failures and reject", func(t *testing.T) {
		b := newTestBreaker(&fakeClock{}, 3, 1)
		for i := 0; i < 3; i++ {
			_ = b.Execute(context.Background(), fail)
		}

		assert.Equal(t, StateOpen, b.State())
		called := false
		err := b.Execute(context.Background(), func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
	})

	t.Run("should report transitions", func(t *testing.T) {
		var got []string
		b := NewBreaker(Config{
			Name:        "payout",
			MaxFailures: 1,
			Timeout:     time.Second,
			OnStateChange: func(name string, from, to State) {
				got = append(got, name+":"+from.String()+"->"+to.String())
			},
		})

		_ = b.Execute(context.Background(), fail)
		b.Reset()

		assert.Equal(t, []string{"payout:closed->open", "payout:open->closed"}, got)
	})
}

func TestBreakerHalfOpen(t *testing.T) {
	t.Run("should close after successful probes", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(clock, 1, 2)
		_ = b.Execute(context.Background(), fail)

		clock.Advance(time.Second)
		assert.NoError(t, b.Execute(context.Background(), succeed))
		assert.Equal(t, StateHalfOpen, b.State())
		assert.NoError(t, b.Execute(context.Background(), succeed))

		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should reopen on probe failure", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(clock, 1, 2)
		_ = b.Execute(context.Background(), fail)

		clock.Advance(time.Second)
		_ = b.Execute(context.Background(), fail)

		assert.Equal(t, StateOpen, b.State())
		assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrCircuitOpen)
	})

	t.Run("should limit concurrent probes", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(clock, 1, 1)
		_ = b.Execute(context.Background(), fail)
		clock.Advance(time.Second)

		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- b.Execute(context.Background(), func() error {
				close(entered)
				<-release
				return nil
			})
		}()
		<-entered

		assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrTooManyRequests)

		close(release)
		assert.NoError(t, <-done)
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestBreakerForceOpen(t *testing.T) {
	t.Run("should reject until timeout elapses", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(clock, 5, 1)

		b.ForceOpen()
		assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrCircuitOpen)

		clock.Advance(time.Second)
		assert.NoError(t, b.Execute(context.Background(), succeed))
		assert.Equal(t, StateClosed, b.State())
	})
}
