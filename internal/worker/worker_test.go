package worker_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlink/internal/worker"
)

func TestWorker_HaltStopsAll(t *testing.T) {
	var w worker.Worker
	var stopped atomic.Int32

	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			stopped.Add(1)
		})
	}
	require.False(t, w.IsHalted())

	w.Halt()
	require.True(t, w.IsHalted())
	require.Equal(t, int32(4), stopped.Load())

	// Idempotent.
	w.Halt()
}

func TestWorker_ZeroValueHalt(t *testing.T) {
	var w worker.Worker
	w.Halt()
	require.True(t, w.IsHalted())
}

func TestWorker_SignalHaltFromInside(t *testing.T) {
	var w worker.Worker
	w.Go(func() { w.SignalHalt() })
	w.Go(func() { <-w.HaltCh() })
	w.Wait()
	require.True(t, w.IsHalted())
}
