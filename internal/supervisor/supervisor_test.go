package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_TripsAfterMaxFailuresWithinWindow(t *testing.T) {
	t.Parallel()

	s := New("trigsched", 3, time.Minute, nil)
	ctx := context.Background()

	failing := func(context.Context) error { return errors.New("boom") }

	err := s.Run(ctx, failing)
	var circuitErr *ErrCircuitOpen
	require.True(t, errors.As(err, &circuitErr))
	assert.Equal(t, "trigsched", circuitErr.Component)
}

func TestSupervisor_OldFailuresFallOutOfWindow(t *testing.T) {
	t.Parallel()

	s := New("tokenproc", 3, 10*time.Millisecond, nil)

	now := time.Now()
	assert.False(t, s.recordFailure(now))
	assert.False(t, s.recordFailure(now.Add(20*time.Millisecond)))
	assert.False(t, s.recordFailure(now.Add(25*time.Millisecond)))
	// the first failure has aged out of the 10ms window by now+25ms
	assert.True(t, s.recordFailure(now.Add(30*time.Millisecond)))
}

func TestSupervisor_CleanReturnStopsLoop(t *testing.T) {
	t.Parallel()

	s := New("dispatch", 5, time.Minute, nil)
	calls := 0
	err := s.Run(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestSupervisor_ContextCancelStopsRetrying(t *testing.T) {
	t.Parallel()

	s := New("ingester", 100, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
}
