package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { runs.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
	}
	require.True(t, d.Pending())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, d.Pending())

	time.Sleep(80 * time.Millisecond)
	require.EqualValues(t, 1, runs.Load())

	d.Trigger()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_CancelDropsPendingRun(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { runs.Add(1) })
	defer d.Stop()

	d.Trigger()
	d.Cancel()
	require.False(t, d.Pending())
	time.Sleep(80 * time.Millisecond)
	require.Zero(t, runs.Load())

	d.Trigger()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_StopIgnoresTriggers(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { runs.Add(1) })
	d.Stop()
	d.Trigger()
	require.False(t, d.Pending())
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, runs.Load())
}
