// Package aio is a library for cooperative asynchronous programming,
// with a bridge for awaiting poll-based futures.
//
// Since Go has already done a great job in bringing green/virtual
// threads into life, this library only implements a single-threaded
// [Loop] type, which some refer to as an async runtime or an event
// loop. One can create as many loops as they like.
//
// # Coroutines and Tasks
//
// A [Task] is spawned on a [Loop] with a [Coroutine] to take care of
// it. In this user-provided function, one returns a specific [Result]
// to tell the coroutine what to do next: yield and watch some events
// (e.g. [Signal] and [State]), make a transition to another task like a
// state machine, or end. If one coroutine blocks, no other coroutines
// can run; the best practice is not to block, and to hand blocking work
// to [Offload] instead.
//
// # Awaiting Poll-Based Futures
//
// The other half of this library speaks the poll protocol. A [Pollable]
// reports ready or pending when polled, stashing a [Waker] to request a
// re-poll later. [Bridge] adapts a Pollable into an [Awaitable] that
// coroutines await with [Await]:
//
//	br := aio.NewBridge(aio.Offload(fetch))
//	myLoop.Spawn(br.Await().Then(aio.Do(func() {
//		v, err := br.Result()
//		// ...
//		_, _ = v, err
//	})))
//
// Each resumption polls the wrapped future once. A pending poll parks
// the coroutine; when the future's work (running on any goroutine)
// calls [Waker.Wake], the loop re-polls, stores the value, drains the
// completion callbacks in registration order and resumes the coroutine.
// An immediately-ready poll completes in the same call, with no yield.
// Completion delivery from other goroutines rides on
// [Loop.CallSoonThreadsafe]; wakes need no locks of their own and may
// even be issued while the completing side still holds its internal
// locks.
//
// # Loops Block Their Goroutine
//
// [Loop.Run] occupies the calling goroutine until [Loop.Stop]; when the
// queue is empty, the loop sleeps, waiting for submissions or timers.
// For the common run-one-thing case, [Loop.RunUntilComplete] spawns an
// awaiter, runs the loop until the awaitable completes, and stops.
//
// # Logging
//
// The package reports coroutine failures, callback panics and dropped
// wakes through a zap logger, a no-op by default; use [SetLogger] to
// install one.
package aio
