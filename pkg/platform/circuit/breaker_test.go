package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glaze/pkg/platform/sentinel"
)

var errUpstream = errors.New("502 bad gateway")

func fail() (int, error) { return 0, errUpstream }
func ok() (int, error)   { return 1, nil }

func TestBreaker_InitialState(t *testing.T) {
	b := New[int]("test")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "test", b.Name())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New[int]("test", WithFailureThreshold(3))

	for range 2 {
		_, err := b.Execute(fail)
		require.ErrorIs(t, err, errUpstream)
	}
	assert.False(t, b.IsOpen())

	_, err := b.Execute(fail)
	require.ErrorIs(t, err, errUpstream)
	assert.True(t, b.IsOpen())

	called := false
	_, err = b.Execute(func() (int, error) { called = true; return 1, nil })
	assert.False(t, called, "open breaker short-circuits")
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestBreaker_ClosesAfterProbe(t *testing.T) {
	var transitions []State
	b := New[int]("test",
		WithFailureThreshold(1),
		WithOpenTimeout(20*time.Millisecond),
		WithStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)

	_, _ = b.Execute(fail)
	require.True(t, b.IsOpen())

	time.Sleep(30 * time.Millisecond)
	v, err := b.Execute(ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	b := New[int]("test",
		WithFailureThreshold(1),
		WithIgnoredErrors(func(err error) bool { return errors.Is(err, sentinel.ErrNotFound) }),
	)

	_, err := b.Execute(func() (int, error) { return 0, sentinel.ErrNotFound })
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.False(t, b.IsOpen())
}
