package aio

// A Bridge adapts a [Pollable] into an [Awaitable], letting coroutines
// await poll-based futures whose completions arrive from arbitrary
// goroutines.
//
// Awaiting works in rounds. Each Advance polls the wrapped future once,
// through a [BridgeFuture], with the bridge's [Waker] installed. An
// immediately-ready poll completes the bridge in the same call, with no
// yield. A pending poll parks the awaiting coroutine; a later
// [Waker.Wake], delivered through [Loop.CallSoonThreadsafe], triggers a
// service step that re-polls on the loop goroutine, stores the value on
// readiness and drains the completion callbacks, which resumes the
// coroutine. A spurious wake whose re-poll is still pending leaves the
// coroutine parked.
//
// A Bridge must not be shared by more than one [Loop]; it binds to the
// loop running its awaiter when awaiting starts.
type Bridge[T any] struct {
	futureCore
	fut   *BridgeFuture[T]
	waker *Waker
	value T
}

// NewBridge creates a [Bridge] awaiting inner. The inner value must be
// safe to hand off to the loop goroutine (see [NewBridgeFuture]).
func NewBridge[T any](inner Pollable[T]) *Bridge[T] {
	return &Bridge[T]{fut: NewBridgeFuture(inner)}
}

// Begin implements [Awaitable]. It binds b to the loop running on the
// current goroutine; outside one it fails with [ErrNoRunningLoop].
func (b *Bridge[T]) Begin() error {
	if b.state != stateCreated {
		return nil
	}
	l := RunningLoop()
	if l == nil {
		return ErrNoRunningLoop
	}
	b.l = l
	b.state = stateAwaiting
	return nil
}

// Advance implements [Awaitable], performing one poll of the wrapped
// future.
func (b *Bridge[T]) Advance() bool {
	switch b.state {
	case stateCreated:
		panic("aio: Advance called before Begin")
	case stateDone:
		return false
	}
	out, err := b.fut.PollOnce(b.bridgeWaker())
	if err != nil {
		b.markDone(err)
		return false
	}
	if out.IsReady() {
		b.value = out.Value()
		b.markDone(nil)
		return false
	}
	b.blocking = true
	return true
}

func (b *Bridge[T]) bridgeWaker() *Waker {
	if b.waker == nil {
		b.waker = &Waker{loop: b.l, service: b.service}
	}
	return b.waker
}

// service is the waker's loop-side step: re-arm the waker, re-poll
// once, and on readiness store the value and complete. A pending
// re-poll keeps the bridge parked until the next wake.
func (b *Bridge[T]) service() {
	b.waker.rearm()
	if b.state != stateAwaiting {
		return
	}
	out, err := b.fut.PollOnce(b.waker)
	if err != nil {
		b.markDone(err)
		return
	}
	if out.IsReady() {
		b.value = out.Value()
		b.markDone(nil)
	}
}

// Result returns the completion value and error. While b is pending it
// reports [ErrPending].
func (b *Bridge[T]) Result() (T, error) {
	if b.state != stateDone {
		var zero T
		return zero, ErrPending
	}
	return b.value, b.err
}

// Cancel detaches b from the wrapped future and completes it with
// [ErrCanceled], scheduling the completion callbacks. The background
// work, if any, keeps running; its eventual result is discarded and its
// wakes become no-ops. Canceling a completed bridge reports false.
func (b *Bridge[T]) Cancel() bool {
	if b.state == stateDone {
		return false
	}
	b.markDone(ErrCanceled)
	return true
}

// Await returns a [Task] that awaits b until it completes, and then
// ends.
func (b *Bridge[T]) Await() Task {
	return Await(b)
}

func (b *Bridge[T]) abort(err error) {
	if b.state == stateDone {
		return
	}
	b.markDone(err)
}
