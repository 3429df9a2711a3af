package aio

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// A Waker is the handle a [Pollable] stashes while pending so that
// whatever it waits on can request a re-poll.
//
// Wake hands control back to the loop in two phases: the calling
// goroutine only enqueues a service step through the loop's thread-safe
// submission primitive, and the service step, on the loop goroutine,
// re-polls the future and on readiness stores the result and drains the
// completion callbacks. Callers may therefore invoke Wake while still
// holding whatever locks their completion path uses; everything that
// touches the future happens strictly later, on the loop.
type Waker struct {
	loop      *Loop
	service   func()
	scheduled atomic.Bool
}

// Wake requests a re-poll of the future this waker is installed on. It
// is safe to call from any goroutine, any number of times; calls made
// while a service step is already pending coalesce into it.
//
// If the loop refuses the submission because it has been closed, the
// error is logged and returned, and the future can never complete: a
// coroutine parked on it stays parked.
func (w *Waker) Wake() error {
	if !w.scheduled.CompareAndSwap(false, true) {
		return nil
	}
	if err := w.loop.CallSoonThreadsafe(w.service); err != nil {
		Logger().Warn("aio: wake dropped", zap.Error(err))
		return err
	}
	return nil
}

// rearm allows the next Wake to schedule another service step. The
// service step calls it before re-polling so that wakes arriving during
// the re-poll are not lost.
func (w *Waker) rearm() {
	w.scheduled.Store(false)
}
