package aio

import (
	"sync"
	"time"
)

// A Poll is the outcome of polling a [Pollable]: pending, or ready with
// a value.
type Poll[T any] struct {
	value T
	ready bool
}

// ReadyPoll returns a ready [Poll] carrying v.
func ReadyPoll[T any](v T) Poll[T] {
	return Poll[T]{value: v, ready: true}
}

// PendingPoll returns a pending [Poll].
func PendingPoll[T any]() Poll[T] {
	return Poll[T]{}
}

// IsReady reports whether p is ready.
func (p Poll[T]) IsReady() bool { return p.ready }

// Value returns the value p carries, the zero value unless p is ready.
func (p Poll[T]) Value() T { return p.value }

// A Pollable is a poll-based future. Asked for its state, it either
// reports ready with a value, or stashes w and reports pending, calling
// [Waker.Wake] on w later when a new poll might produce a different
// answer. Only the waker from the most recent poll needs waking.
//
// Poll is only ever called on the goroutine of the loop driving the
// future, never concurrently with itself; completion may happen on any
// goroutine, so implementations guard state shared with their
// completion path. A returned error is terminal: the pollable is never
// polled again.
type Pollable[T any] interface {
	Poll(w *Waker) (Poll[T], error)
}

// PollFunc is a func that implements the [Pollable] interface.
type PollFunc[T any] func(w *Waker) (Poll[T], error)

// Poll implements the [Pollable] interface.
func (f PollFunc[T]) Poll(w *Waker) (Poll[T], error) { return f(w) }

// Resolved returns a [Pollable] that is ready with v on the first poll.
func Resolved[T any](v T) Pollable[T] {
	return PollFunc[T](func(*Waker) (Poll[T], error) {
		return ReadyPoll(v), nil
	})
}

// Failed returns a [Pollable] that fails with err on the first poll.
func Failed[T any](err error) Pollable[T] {
	return PollFunc[T](func(*Waker) (Poll[T], error) {
		return PendingPoll[T](), err
	})
}

// After returns a [Pollable] that becomes ready with the completion
// time once d has elapsed in real time. The first poll arms the timer;
// the timer's goroutine delivers the wake.
func After(d time.Duration) Pollable[time.Time] {
	return &afterPollable{d: d}
}

type afterPollable struct {
	mu    sync.Mutex
	d     time.Duration
	w     *Waker
	armed bool
	done  bool
	at    time.Time
}

func (p *afterPollable) Poll(w *Waker) (Poll[time.Time], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = w
	if p.done {
		return ReadyPoll(p.at), nil
	}
	if !p.armed {
		p.armed = true
		time.AfterFunc(p.d, p.fire)
	}
	return PendingPoll[time.Time](), nil
}

func (p *afterPollable) fire() {
	p.mu.Lock()
	p.done = true
	p.at = time.Now()
	w := p.w
	p.mu.Unlock()
	if w != nil {
		_ = w.Wake()
	}
}

// A BridgeFuture wraps an inner [Pollable] and enforces its polling
// contract: one delegated poll per call, and no polls at all after a
// ready result or an error.
type BridgeFuture[T any] struct {
	inner Pollable[T]
	done  bool
}

// NewBridgeFuture creates a [BridgeFuture] owning inner. The inner
// value must be safe to hand off to the loop goroutine; it is polled
// there and nowhere else.
func NewBridgeFuture[T any](inner Pollable[T]) *BridgeFuture[T] {
	if inner == nil {
		panic("aio: nil Pollable")
	}
	return &BridgeFuture[T]{inner: inner}
}

// PollOnce polls the inner pollable once with w installed. It returns
// the inner outcome, or the inner error untransformed. PollOnce panics
// if called again after either a ready outcome or an error.
func (f *BridgeFuture[T]) PollOnce(w *Waker) (Poll[T], error) {
	if f.done {
		panic("aio: pollable polled after completion")
	}
	out, err := f.inner.Poll(w)
	if err != nil {
		f.done = true
		return PendingPoll[T](), err
	}
	if out.IsReady() {
		f.done = true
	}
	return out, nil
}
