package aio

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	offloadSlots     *semaphore.Weighted
	offloadSlotsOnce sync.Once
)

// offloadSem bounds the goroutines running offloaded work to
// min(32, GOMAXPROCS+4).
func offloadSem() *semaphore.Weighted {
	offloadSlotsOnce.Do(func() {
		n := runtime.GOMAXPROCS(0) + 4
		if n > 32 {
			n = 32
		}
		offloadSlots = semaphore.NewWeighted(int64(n))
	})
	return offloadSlots
}

// Offload returns a [Pollable] that runs f on a background goroutine
// and becomes ready with its result. The first poll starts the work;
// the pool is bounded, so the goroutine may wait for a slot first. A
// panic inside f fails the pollable with a [*PanicError].
//
// Offload is how blocking work leaves the loop: wrap it in a [Bridge]
// and await it, and the loop keeps running while f blocks.
func Offload[T any](f func() (T, error)) Pollable[T] {
	return &offloadPollable[T]{f: f}
}

type offloadPollable[T any] struct {
	mu      sync.Mutex
	f       func() (T, error)
	w       *Waker
	started bool
	done    bool
	value   T
	err     error
}

func (p *offloadPollable[T]) Poll(w *Waker) (Poll[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = w
	if p.done {
		if p.err != nil {
			return PendingPoll[T](), p.err
		}
		return ReadyPoll(p.value), nil
	}
	if !p.started {
		p.started = true
		go p.work()
	}
	return PendingPoll[T](), nil
}

func (p *offloadPollable[T]) work() {
	var value T
	err := offloadSem().Acquire(context.Background(), 1)
	if err == nil {
		perr := catch(func() { value, err = p.f() })
		offloadSem().Release(1)
		if perr != nil {
			err = perr
		}
	}

	p.mu.Lock()
	p.value, p.err = value, err
	p.done = true
	w := p.w
	p.mu.Unlock()

	if w != nil {
		_ = w.Wake()
	}
}
