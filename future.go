package aio

import (
	"context"
	"errors"
)

// Completion errors surfaced by [Future] and [Bridge].
var (
	// ErrPending is reported when a result is queried before
	// completion.
	ErrPending = errors.New("aio: future is not completed")
	// ErrCanceled is the completion error of a canceled future.
	ErrCanceled = errors.New("aio: future canceled")
)

const (
	stateCreated int8 = iota
	stateAwaiting
	stateDone
)

// An Awaitable is an object a coroutine can suspend on. The [Await]
// task drives it through a small protocol:
//
//   - Begin is called once when awaiting starts and binds the awaitable
//     to a loop.
//   - Advance is called right after Begin and again after every
//     resumption. It reports true to yield, or false once completed.
//   - A yield with Blocking set parks the awaiting coroutine; a
//     completion callback registered with AddDoneCallback resumes it.
//     Callbacks run on the loop goroutine, in registration order,
//     exactly once each.
//
// The interface is implemented by [Future] and [Bridge]; it cannot be
// implemented outside this package.
type Awaitable interface {
	// Begin binds the awaitable to a loop when awaiting starts.
	Begin() error
	// Advance performs one protocol step, reporting whether the
	// awaitable yielded; false means it has completed.
	Advance() bool
	// Loop returns the bound loop, or nil before Begin.
	Loop() *Loop
	// Blocking reports whether the last yield asked the awaiting
	// coroutine to park until a completion callback fires.
	Blocking() bool
	// AddDoneCallback appends (cb, ctx) to the completion callback
	// list. If the awaitable has already completed, cb is scheduled
	// immediately. One should only call this method on the loop
	// goroutine. A nil ctx defaults to [context.Background].
	AddDoneCallback(cb func(context.Context), ctx context.Context)
	// Err returns the completion error: nil while pending or on
	// success.
	Err() error
	// Done reports whether the awaitable has completed.
	Done() bool

	// checkResult queries the result right before the final
	// resumption.
	checkResult()
	// abort completes the awaitable with err when the awaiting
	// protocol cannot proceed.
	abort(err error)
}

type callbackEntry struct {
	fn  func(context.Context)
	ctx context.Context
}

// futureCore carries the loop-confined completion state shared by
// [Future] and [Bridge]: the protocol state, the blocking flag, the
// completion error and the ordered completion callbacks.
type futureCore struct {
	l         *Loop
	state     int8
	blocking  bool
	err       error
	callbacks []callbackEntry
}

// Loop implements [Awaitable].
func (f *futureCore) Loop() *Loop { return f.l }

// Blocking implements [Awaitable].
func (f *futureCore) Blocking() bool { return f.blocking }

// Err implements [Awaitable].
func (f *futureCore) Err() error { return f.err }

// Done implements [Awaitable].
func (f *futureCore) Done() bool { return f.state == stateDone }

// AddDoneCallback implements [Awaitable].
func (f *futureCore) AddDoneCallback(cb func(context.Context), ctx context.Context) {
	if cb == nil {
		panic("aio: nil callback")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if f.state == stateDone {
		f.schedule(callbackEntry{cb, ctx})
		return
	}
	f.callbacks = append(f.callbacks, callbackEntry{cb, ctx})
}

func (f *futureCore) checkResult() {
	// The completion state is already in place when callbacks run;
	// there is nothing to recompute. The query is kept as a protocol
	// step so that every resumption observes a completed future.
}

// markDone completes the future and hands the accumulated callbacks to
// the loop exactly once, in registration order.
func (f *futureCore) markDone(err error) {
	f.err = err
	f.blocking = false
	f.state = stateDone
	callbacks := f.callbacks
	f.callbacks = nil
	for _, e := range callbacks {
		f.schedule(e)
	}
}

func (f *futureCore) schedule(e callbackEntry) {
	if f.l == nil {
		// Completed before binding to a loop; run in place.
		e.fn(e.ctx)
		return
	}
	f.l.CallSoon(func() { e.fn(e.ctx) })
}

// A Future is a loop-side single-assignment value that coroutines can
// await. It completes with [Future.SetResult], [Future.SetError] or
// [Future.Cancel], typically called from a loop callback; completions
// from other goroutines go through [Loop.CallSoonThreadsafe].
//
// A Future must not be shared by more than one [Loop].
type Future[T any] struct {
	futureCore
	value T
}

// NewFuture creates a pending [Future] bound to l.
func NewFuture[T any](l *Loop) *Future[T] {
	if l == nil {
		panic("aio: nil Loop")
	}
	return &Future[T]{futureCore: futureCore{l: l}}
}

// Begin implements [Awaitable].
func (f *Future[T]) Begin() error {
	if f.state == stateCreated {
		f.state = stateAwaiting
	}
	return nil
}

// Advance implements [Awaitable]. A pending future parks its awaiter;
// completion resumes it.
func (f *Future[T]) Advance() bool {
	switch f.state {
	case stateCreated:
		panic("aio: Advance called before Begin")
	case stateDone:
		return false
	}
	f.blocking = true
	return true
}

// SetResult completes f with v, scheduling the completion callbacks.
// It panics if f has already completed.
//
// One should only call this method on the loop goroutine.
func (f *Future[T]) SetResult(v T) {
	if f.state == stateDone {
		panic("aio: future already completed")
	}
	f.value = v
	f.markDone(nil)
}

// SetError completes f with err, scheduling the completion callbacks.
// It panics if f has already completed or if err is nil.
//
// One should only call this method on the loop goroutine.
func (f *Future[T]) SetError(err error) {
	if f.state == stateDone {
		panic("aio: future already completed")
	}
	if err == nil {
		panic("aio: SetError called with nil error")
	}
	f.markDone(err)
}

// Cancel completes f with [ErrCanceled] and reports whether it did;
// canceling a completed future reports false.
func (f *Future[T]) Cancel() bool {
	if f.state == stateDone {
		return false
	}
	f.markDone(ErrCanceled)
	return true
}

// Result returns the completion value and error. While f is pending it
// reports [ErrPending].
func (f *Future[T]) Result() (T, error) {
	if f.state != stateDone {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Await returns a [Task] that awaits f until it completes, and then
// ends.
func (f *Future[T]) Await() Task {
	return Await(f)
}

func (f *Future[T]) abort(err error) {
	if f.state == stateDone {
		return
	}
	f.markDone(err)
}

// Await returns a [Task] that drives a to completion. It binds a to the
// running loop, then advances it after every resumption; whenever a
// yields in blocking mode, the coroutine parks until a's completion
// callback resumes it. When a completes, the task ends; the completion
// value stays on a for a continuation to read.
//
// If Begin fails, or if a turns out to be bound to a different loop,
// the task aborts a with the corresponding error ([ErrNoRunningLoop],
// [ErrLoopMismatch]) so that continuations still run and can observe it
// through [Awaitable.Err].
func Await(a Awaitable) Task {
	began := false
	return func(co *Coroutine) Result {
		if !began {
			if err := a.Begin(); err != nil {
				a.abort(err)
				return co.End()
			}
			if l := a.Loop(); l != nil && l != co.loop {
				a.abort(ErrLoopMismatch)
				return co.End()
			}
			began = true
		}
		if !a.Advance() {
			return co.End()
		}
		if a.Blocking() {
			a.AddDoneCallback(func(context.Context) {
				a.checkResult()
				co.Resume()
			}, nil)
		} else {
			// A plain yield reschedules cooperatively.
			co.Resume()
		}
		return co.Yield()
	}
}
