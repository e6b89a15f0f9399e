// Package worker provides goroutine groups that stop together.
package worker

import "sync"

// Worker tracks a set of goroutines sharing one halt channel. The zero value is
// ready to use; embed it in long-lived components.
type Worker struct {
	wg       sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan struct{}
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}

// Go runs fn in a tracked goroutine. fn must return once HaltCh is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// IsHalted reports whether Halt has been called.
func (w *Worker) IsHalted() bool {
	select {
	case <-w.HaltCh():
		return true
	default:
		return false
	}
}

// SignalHalt closes the halt channel without waiting. Tracked goroutines may
// call it.
func (w *Worker) SignalHalt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
}

// Halt signals every goroutine to stop and waits for them. Safe to call more
// than once and from several goroutines, but not from inside a tracked goroutine.
func (w *Worker) Halt() {
	w.SignalHalt()
	w.wg.Wait()
}

// Wait blocks until every tracked goroutine has returned, without halting.
func (w *Worker) Wait() {
	w.wg.Wait()
}
