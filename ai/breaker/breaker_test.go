package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/ports/porttest"
)

func newTestBreaker(clock *porttest.FakeClock) *Breaker {
	return New(Options{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		Clock:            clock,
	})
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
	assert.Equal(t, 30*time.Second, b.RetryAfter())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SingleProbeAfterWindow(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// One probe passes; a concurrent caller is still rejected.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	// Probe outcome frees the slot for the next probe.
	b.Success()
	require.NoError(t, b.Allow())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(30 * time.Second)

	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, time.Duration(0), b.RetryAfter())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(30 * time.Second)

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 30*time.Second, b.RetryAfter())

	// A fresh window must elapse before the next probe.
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen)
	clock.Advance(1 * time.Second)
	require.NoError(t, b.Allow())
}

func TestBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(30 * time.Second)

	// A probe that ends without a backend verdict (caller error,
	// abandoned stream) releases the slot instead of wedging it.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
	b.Release()

	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Allow())
	b.Success()
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ReleaseWhileClosedIsNoop(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	b := newTestBreaker(clock)

	b.Failure()
	b.Failure()
	b.Release()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	var transitions []string
	b := New(Options{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenDuration:     time.Second,
		Clock:            clock,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	b.Failure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.Success()

	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, transitions)
}
