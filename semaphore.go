package aio

import "slices"

// Semaphore provides a way to bound concurrent access to a resource by
// coroutines. The callers can request access with a given weight.
//
// A Semaphore must not be shared by more than one [Loop].
type Semaphore struct {
	size    int64
	cur     int64
	waiters []*semaphoreWaiter
}

// NewSemaphore creates a new [Semaphore] with the given maximum
// combined weight.
func NewSemaphore(n int64) *Semaphore {
	return &Semaphore{size: n}
}

// Acquire returns a [Task] that awaits until a weight of n is acquired
// from the semaphore, and then ends. Waiters acquire in request order.
func (s *Semaphore) Acquire(n int64) Task {
	if n < 0 {
		panic("aio(Semaphore): negative weight")
	}
	return func(co *Coroutine) Result {
		if s.size-s.cur >= n && len(s.waiters) == 0 {
			s.cur += n
			return co.End()
		}
		if n > s.size {
			// Impossible to acquire; await forever.
			return co.Await().Reiterate()
		}
		w := &semaphoreWaiter{s: s, n: n}
		s.waiters = append(s.waiters, w)
		co.Cleanup(w)
		return co.Await(w).End()
	}
}

// TryAcquire acquires a weight of n from the semaphore without waiting.
// It reports whether it succeeded.
//
// One should only call this method in a [Task] function or a loop
// callback.
func (s *Semaphore) TryAcquire(n int64) bool {
	if n < 0 {
		panic("aio(Semaphore): negative weight")
	}
	if s.size-s.cur < n || len(s.waiters) != 0 {
		return false
	}
	s.cur += n
	return true
}

// Release releases a weight of n back to the semaphore, resuming
// waiters whose requests now fit. It panics if the released weight
// exceeds what has been acquired.
//
// One should only call this method in a [Task] function or a loop
// callback.
func (s *Semaphore) Release(n int64) {
	if n < 0 {
		panic("aio(Semaphore): negative weight")
	}
	s.cur -= n
	if s.cur < 0 {
		panic("aio(Semaphore): released more than held")
	}
	s.notifyWaiters()
}

func (s *Semaphore) notifyWaiters() {
	for len(s.waiters) != 0 {
		w := s.waiters[0]
		if s.size-s.cur < w.n {
			break
		}
		s.cur += w.n
		w.n = 0
		s.waiters = slices.Delete(s.waiters, 0, 1)
		w.Notify()
	}
}

func (s *Semaphore) removeWaiter(w *semaphoreWaiter) {
	if i := slices.Index(s.waiters, w); i != -1 {
		s.waiters = slices.Delete(s.waiters, i, i+1)
	}
}

type semaphoreWaiter struct {
	Signal
	s *Semaphore
	n int64
}

// Cleanup removes the waiter from the queue if it has not acquired yet,
// so that a coroutine resumed by other means gives up its place.
func (w *semaphoreWaiter) Cleanup() {
	if w.n != 0 {
		w.s.removeWaiter(w)
	}
	w.s = nil
}
