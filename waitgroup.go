package aio

// A WaitGroup is a [Signal] with a counter.
//
// Calling the Add or Done method of a WaitGroup, in a [Task] function,
// updates the counter and, when the counter becomes zero, resumes any
// [Coroutine] that is watching the WaitGroup.
//
// A WaitGroup must not be shared by more than one [Loop].
type WaitGroup struct {
	Signal
	n int
}

// Add adds delta, which may be negative, to the [WaitGroup] counter.
// If the counter becomes zero, Add resumes any [Coroutine] that is
// watching wg. If the counter goes negative, Add panics.
//
// One should only call this method in a [Task] function or a loop
// callback.
func (wg *WaitGroup) Add(delta int) {
	wg.n += delta
	if wg.n < 0 {
		panic("aio(WaitGroup): negative counter")
	}
	if wg.n == 0 && delta != 0 {
		wg.Notify()
	}
}

// Done decrements the [WaitGroup] counter by one.
//
// One should only call this method in a [Task] function or a loop
// callback.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Await returns a [Task] that awaits until the [WaitGroup] counter
// becomes zero, and then ends.
func (wg *WaitGroup) Await() Task {
	return func(co *Coroutine) Result {
		if wg.n != 0 {
			return co.Await(wg).Reiterate()
		}
		return co.End()
	}
}

// Go spawns a coroutine on l to work on t, adding one to the counter
// first and subtracting one when the coroutine ends, whether t ends or
// fails.
//
// One should only call this method in a [Task] function or a loop
// callback, since it updates the counter.
func (wg *WaitGroup) Go(l *Loop, t Task) {
	wg.Add(1)
	l.spawn(must(t), wg.Done)
}
