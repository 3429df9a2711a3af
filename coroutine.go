package aio

import (
	"slices"

	"go.uber.org/zap"
)

// A Task is a piece of work that a [Loop] spawns a [Coroutine] for.
// The return value of a task function, a [Result], determines what next
// for the coroutine to do.
type Task func(co *Coroutine) Result

// An action describes what a coroutine does after running a task
// function.
type action int

const (
	_ action = iota
	doYield
	doTransition
	doEnd
	doThrow
)

const (
	flagResumed uint8 = 1 << iota
	flagEnqueued
	flagEnded
)

// A Coroutine is an execution of code on a [Loop], similar to a
// goroutine but cooperative and stackless.
//
// A coroutine is created with a function called [Task].
// A coroutine's job is to end the task.
// When a [Loop] spawns a coroutine with a task, it runs the coroutine
// by calling the task function with the coroutine as the argument.
// The return value determines whether to end the coroutine or to yield
// it so that it could resume later.
//
// In order for a yielded coroutine to resume, it must either watch at
// least one [Event] (e.g. [Signal] and [State]) when yielding, or
// arrange an external [Coroutine.Resume] call, e.g. from a completion
// callback. When a coroutine is resumed, the loop runs it again.
//
// A coroutine can also make a transition to work on another task
// according to the return value of the task function, just like a state
// machine.
type Coroutine struct {
	flag     uint8
	loop     *Loop
	task     Task
	guard    func() bool
	deps     map[Event]struct{}
	cleanups []Cleanup
	conts    []Task
	onEnd    func() // runs once when the coroutine ends, even on failure
	failure  error
}

func (co *Coroutine) init(l *Loop, t Task) *Coroutine {
	co.flag = flagResumed
	co.loop = l
	co.task = t
	return co
}

// Loop returns the loop that spawned co.
func (co *Coroutine) Loop() *Loop {
	return co.loop
}

// Ended reports whether co has ended.
func (co *Coroutine) Ended() bool {
	return co.flag&flagEnded != 0
}

// Resume resumes co, scheduling it to run again on the loop.
// Resuming an ended coroutine has no effect.
//
// One should only call this method on the loop goroutine, typically
// from a completion callback. Resumptions from other goroutines go
// through [Loop.CallSoonThreadsafe].
func (co *Coroutine) Resume() {
	switch flag := co.flag; {
	case flag&flagEnded != 0:
	case flag&flagEnqueued != 0:
		co.flag = flag | flagResumed
	default:
		co.flag = flag | flagResumed | flagEnqueued
		l := co.loop
		l.mu.Lock()
		l.queue = append(l.queue, loopItem{co: co})
		l.mu.Unlock()
	}
}

func (co *Coroutine) run() {
	var res Result

	for {
		if g := co.guard; g != nil {
			var ok bool

			co.flag &^= flagResumed

			if !co.try(func() { ok = g() }) {
				co.task = throwFailure
				ok = true
			}

			if !ok {
				return
			}

			co.guard = nil
		}

		co.clearDeps()
		co.runCleanups()

		co.flag &^= flagResumed

		if !co.try(func() { res = co.task(co) }) {
			res = Result{action: doThrow}
		}

		switch res.action {
		case doYield:
			if res.task != nil {
				co.task = res.task
			}
			if res.guard != nil {
				co.guard = res.guard
				continue // For evaluating the guard immediately.
			}
			return
		case doTransition:
			co.task = res.task
			continue
		case doEnd:
			if n := len(co.conts); n != 0 {
				co.task = co.conts[n-1]
				co.conts[n-1] = nil
				co.conts = co.conts[:n-1]
				continue
			}
		case doThrow:
			// A failure unwinds past pending continuations.
			clear(co.conts)
			co.conts = co.conts[:0]
		}

		break
	}

	co.flag |= flagEnded
	co.clearDeps()
	co.runCleanups()

	if f := co.onEnd; f != nil {
		co.onEnd = nil
		co.try(f)
	}

	if co.failure != nil {
		Logger().Error("aio: coroutine failed", zap.Error(co.failure))
	}
}

// try runs f, recording the first panic as co's failure.
func (co *Coroutine) try(f func()) bool {
	err := catch(f)
	if err == nil {
		return true
	}
	if co.failure == nil {
		co.failure = err
	}
	return false
}

func throwFailure(co *Coroutine) Result {
	return Result{action: doThrow}
}

func (co *Coroutine) clearDeps() {
	deps := co.deps
	for d := range deps {
		delete(deps, d)
		d.removeListener(co)
	}
}

func (co *Coroutine) runCleanups() {
	for len(co.cleanups) != 0 {
		cleanups := co.cleanups
		co.cleanups = nil
		for _, c := range slices.Backward(cleanups) {
			if !co.try(c.Cleanup) {
				co.task = throwFailure
			}
		}
	}
}

// Watch watches some events so that, when any of them notifies, co
// resumes. Watched events are cleared whenever co resumes or ends.
func (co *Coroutine) Watch(ev ...Event) {
	if co.flag&flagEnded != 0 {
		return
	}
	for _, d := range ev {
		deps := co.deps
		if deps == nil {
			deps = make(map[Event]struct{})
			co.deps = deps
		}
		deps[d] = struct{}{}
		d.addListener(co)
	}
}

// Cleanup represents any type that carries a Cleanup method.
//
// A Cleanup can be added to a coroutine in a [Task] function for making
// an effect some time later when the coroutine resumes or ends, or when
// it is making a transition to work on another [Task].
type Cleanup interface {
	Cleanup()
}

// A CleanupFunc is a func() that implements the [Cleanup] interface.
type CleanupFunc func()

// Cleanup implements the [Cleanup] interface.
func (f CleanupFunc) Cleanup() { f() }

// Cleanup adds a [Cleanup] to co, which will run when co resumes or
// ends, or when co is making a transition to work on another [Task].
// Cleanups run in last-in first-out order.
func (co *Coroutine) Cleanup(c Cleanup) {
	if co.Ended() {
		panic("aio: coroutine has ended")
	}
	if c == nil {
		return
	}
	co.cleanups = append(co.cleanups, c)
}

// CleanupFunc adds a function call to co, which will run when co
// resumes or ends, or when co is making a transition to work on another
// [Task].
func (co *Coroutine) CleanupFunc(f func()) {
	if f == nil {
		return
	}
	co.Cleanup(CleanupFunc(f))
}

// Result is the type of the return value of a [Task] function.
// A Result determines what next for a coroutine to do.
//
// A Result can be created by calling one of the following methods:
//   - [Coroutine.Await]: for creating a [PendingResult] that can be
//     transformed into a Result with one of its methods, which will
//     then cause the coroutine to yield;
//   - [Coroutine.Yield]: for yielding a coroutine with additional
//     events to watch and, when resumed, reiterating the task;
//   - [Coroutine.Transition]: for making a transition to work on
//     another task;
//   - [Coroutine.End]: for ending the task;
//   - [Coroutine.Throw]: for failing the coroutine with an error.
type Result struct {
	action action
	guard  func() bool
	task   Task
}

// PendingResult is the return type of the [Coroutine.Await] method.
// A PendingResult must be transformed into a [Result] with one of its
// methods before being returned by a [Task] function.
type PendingResult struct {
	res Result
}

// Reiterate returns a [Result] that causes the coroutine to yield and,
// when resumed, run the current task again from the beginning.
func (pr PendingResult) Reiterate() Result {
	return pr.res
}

// Then returns a [Result] that causes the coroutine to yield and, when
// resumed, make a transition to work on t.
func (pr PendingResult) Then(t Task) Result {
	pr.res.task = must(t)
	return pr.res
}

// End returns a [Result] that causes the coroutine to yield and, when
// resumed, end the current task.
func (pr PendingResult) End() Result {
	return pr.Then(End())
}

// Until attaches a guard condition. The yielded coroutine reiterates
// or transitions only after it is resumed when f() is true; otherwise
// it keeps waiting. The guard is evaluated once immediately and then on
// every resumption, before watched events are cleared.
func (pr PendingResult) Until(f func() bool) PendingResult {
	pr.res.guard = f
	return pr
}

// Await returns a [PendingResult] that can be transformed into a
// [Result] for the current task to return, causing the coroutine to
// yield. Whenever any of the given events notifies, the coroutine
// resumes.
func (co *Coroutine) Await(ev ...Event) PendingResult {
	if len(ev) != 0 {
		co.Watch(ev...)
	}
	return PendingResult{res: Result{action: doYield}}
}

// Yield returns a [Result] that causes the coroutine to yield and, when
// resumed, run the current task again from the beginning. Whenever any
// of the given events notifies, the coroutine resumes.
func (co *Coroutine) Yield(ev ...Event) Result {
	return co.Await(ev...).Reiterate()
}

// Transition returns a [Result] that causes the coroutine to make a
// transition to work on t immediately.
func (co *Coroutine) Transition(t Task) Result {
	return Result{action: doTransition, task: must(t)}
}

// End returns a [Result] that causes the coroutine to end the current
// task. If there are continuations, the coroutine works on the next
// one; otherwise it ends.
func (co *Coroutine) End() Result {
	return Result{action: doEnd}
}

// Throw returns a [Result] that fails the coroutine with err. The
// failure skips pending continuations, ends the coroutine and is
// reported through the package's logger.
func (co *Coroutine) Throw(err error) Result {
	if err == nil {
		panic("aio: Throw called with nil error")
	}
	if co.failure == nil {
		co.failure = err
	}
	return Result{action: doThrow}
}

// Do returns a [Task] that calls f, and then ends.
func Do(f func()) Task {
	return func(co *Coroutine) Result {
		f()
		return co.End()
	}
}

// End returns a [Task] that ends without doing anything.
func End() Task {
	return (*Coroutine).End
}

// Then returns a [Task] that first works on t, then on next after t
// ends. If t fails, next is skipped.
//
// To chain more than two tasks, use the [Block] function.
func (t Task) Then(next Task) Task {
	next = must(next)
	return func(co *Coroutine) Result {
		co.conts = append(co.conts, next)
		return co.Transition(t)
	}
}

// Block returns a [Task] that runs each of the given tasks in sequence.
// When one task ends, Block works on another.
func Block(s ...Task) Task {
	switch len(s) {
	case 0:
		return End()
	case 1:
		return must(s[0])
	}
	return func(co *Coroutine) Result {
		for _, t := range slices.Backward(s[1:]) {
			co.conts = append(co.conts, must(t))
		}
		return co.Transition(s[0])
	}
}

// Join returns a [Task] that spawns each of the given tasks in its own
// coroutine, awaits until all of those coroutines end, and then ends.
// A failing task counts as ended. When passed no tasks, Join ends
// immediately.
func Join(s ...Task) Task {
	return func(co *Coroutine) Result {
		if len(s) == 0 {
			return co.End()
		}
		wg := new(WaitGroup)
		wg.Add(len(s))
		for _, t := range s {
			co.loop.spawn(must(t), wg.Done)
		}
		return co.Transition(wg.Await())
	}
}

func must(t Task) Task {
	if t == nil {
		panic("aio: nil Task")
	}
	return t
}
