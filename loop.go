package aio

import (
	"bytes"
	"errors"
	"math"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Errors reported by [Loop] operations and surfaced through awaitables.
var (
	// ErrNoRunningLoop is reported when an operation that needs a
	// running loop is performed on a goroutine that is not running one.
	ErrNoRunningLoop = errors.New("aio: no running loop in current goroutine")
	// ErrLoopClosed is reported by submissions to a closed loop.
	ErrLoopClosed = errors.New("aio: loop closed")
	// ErrLoopRunning is reported when a loop is run or closed while it
	// is already running.
	ErrLoopRunning = errors.New("aio: loop already running")
	// ErrLoopMismatch is reported when an awaitable bound to one loop
	// is awaited on another.
	ErrLoopMismatch = errors.New("aio: awaitable belongs to another loop")
)

const (
	loopCreated int8 = iota
	loopRunning
	loopStopping
	loopStopped
	loopClosed
)

// A loopItem is one queue entry: either a coroutine to run or a plain
// callback.
type loopItem struct {
	co *Coroutine
	fn func()
}

// A Loop is a [Task] spawner and a single-threaded [Task] runner.
//
// When a task is spawned, a coroutine is resumed or a callback is
// submitted, an entry is added into an internal FIFO queue. The Run
// method pops and runs each entry in order, on the goroutine that
// called Run. If one entry blocks, no others can run. The best practice
// is not to block; hand blocking work to [Offload] instead.
//
// When the queue is empty, Run sleeps until a submission arrives or the
// next timer is due, so completions can be delivered from other
// goroutines at any time through [Loop.CallSoonThreadsafe].
//
// A Loop is ready to use in its zero form. A stopped loop can run
// again; a closed loop is terminal.
type Loop struct {
	mu     sync.Mutex
	state  int8
	queue  []loopItem
	timers timerQueue
	wake   chan struct{}
	clock  Clock
	seq    uint64
}

func (l *Loop) initLocked() {
	if l.wake == nil {
		l.wake = make(chan struct{}, 1)
	}
	if l.clock == nil {
		l.clock = NewRealClock()
	}
}

// wakeLocked signals the run loop, with l.mu held. The channel has a
// one-slot buffer so repeated signals coalesce.
func (l *Loop) wakeLocked() {
	if l.wake == nil {
		l.wake = make(chan struct{}, 1)
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// SetClock configures the clock used by timers and idle waiting.
// It must be called before the loop is used.
func (l *Loop) SetClock(c Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
}

// Run runs the loop on the calling goroutine until [Loop.Stop] is
// called. While it runs, [RunningLoop] reports l on this goroutine.
//
// Run fails with [ErrLoopRunning] if the loop is already running, and
// with [ErrLoopClosed] if it has been closed. A stopped loop can run
// again; entries submitted in between are kept and run first.
func (l *Loop) Run() error {
	l.mu.Lock()
	switch l.state {
	case loopRunning, loopStopping:
		l.mu.Unlock()
		return ErrLoopRunning
	case loopClosed:
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.state = loopRunning
	l.initLocked()
	wake, clock := l.wake, l.clock
	l.mu.Unlock()

	id := goroutineID()
	runningLoops.Store(id, l)
	defer func() {
		runningLoops.Delete(id)
		l.mu.Lock()
		l.state = loopStopped
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		if l.state == loopStopping {
			l.mu.Unlock()
			return nil
		}

		now := clock.NowMs()
		for {
			tm := l.timers.peek()
			if tm == nil || tm.when > now {
				break
			}
			l.timers.pop()
			tm.state = timerFired
			l.queue = append(l.queue, loopItem{fn: tm.f})
		}

		if len(l.queue) == 0 {
			var deadline uint64
			hasTimer := false
			if tm := l.timers.peek(); tm != nil {
				deadline, hasTimer = tm.when, true
			}
			l.mu.Unlock()
			if hasTimer {
				clock.WaitMs(deadline, wake)
			} else {
				<-wake
			}
			continue
		}

		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, it := range batch {
			l.runItem(it)
		}
	}
}

func (l *Loop) runItem(it loopItem) {
	if it.co != nil {
		it.co.flag &^= flagEnqueued
		if it.co.flag&(flagEnded|flagResumed) == flagResumed {
			it.co.run()
		}
		return
	}
	if err := catch(it.fn); err != nil {
		Logger().Error("aio: loop callback panicked", zap.Error(err))
	}
}

// Stop requests the loop to return from [Loop.Run] at the next
// iteration boundary. Entries still in the queue and pending timers are
// kept for the next Run. Stopping a loop that is not running has no
// effect.
//
// Stop is safe for concurrent use.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != loopRunning {
		return
	}
	l.state = loopStopping
	l.wakeLocked()
}

// Close closes the loop for good. After Close, all submissions fail
// with [ErrLoopClosed] or panic, and wakes for futures bridged on the
// loop are dropped. Close fails with [ErrLoopRunning] if the loop is
// running; stop it first. Closing a closed loop is a no-op.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case loopRunning, loopStopping:
		return ErrLoopRunning
	case loopClosed:
		return nil
	}
	l.state = loopClosed
	return nil
}

// Spawn creates a coroutine to work on t and schedules it to run.
// It panics if the loop is closed.
//
// Spawn is safe for concurrent use.
func (l *Loop) Spawn(t Task) {
	l.spawn(must(t), nil)
}

// spawn is [Loop.Spawn] with an end hook that runs when the coroutine
// ends, whether the task ends or fails.
func (l *Loop) spawn(t Task, onEnd func()) *Coroutine {
	co := new(Coroutine).init(l, t)
	co.onEnd = onEnd
	co.flag |= flagEnqueued
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == loopClosed {
		panic("aio: loop closed")
	}
	l.queue = append(l.queue, loopItem{co: co})
	l.wakeLocked()
	return co
}

// CallSoon schedules f to run on the loop goroutine, in submission
// order.
//
// One should only call this method from a [Task] function or a loop
// callback; it does not wake an idle loop. For other goroutines, use
// [Loop.CallSoonThreadsafe].
func (l *Loop) CallSoon(f func()) {
	if f == nil {
		panic("aio: nil callback")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, loopItem{fn: f})
}

// CallSoonThreadsafe schedules f to run on the loop goroutine and wakes
// the loop if it is sleeping. It is the one submission primitive that
// is safe from any goroutine, and everything crossing into the loop
// rides on it. It fails with [ErrLoopClosed] if the loop has been
// closed.
func (l *Loop) CallSoonThreadsafe(f func()) error {
	if f == nil {
		panic("aio: nil callback")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == loopClosed {
		return ErrLoopClosed
	}
	l.queue = append(l.queue, loopItem{fn: f})
	l.wakeLocked()
	return nil
}

// CallLater schedules f to run on the loop goroutine after delay d,
// measured by the loop's clock. The returned [Timer] can cancel it.
// CallLater panics if the loop is closed.
//
// CallLater is safe for concurrent use.
func (l *Loop) CallLater(d time.Duration, f func()) *Timer {
	if f == nil {
		panic("aio: nil callback")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == loopClosed {
		panic("aio: loop closed")
	}
	l.initLocked()
	now := l.clock.NowMs()
	when := now + durationToMs(d)
	if when < now {
		when = math.MaxUint64
	}
	l.seq++
	tm := &Timer{l: l, when: when, seq: l.seq, f: f}
	l.timers.push(tm)
	l.wakeLocked()
	return tm
}

// RunUntilComplete spawns a coroutine awaiting a, runs the loop until
// the coroutine ends, then stops and returns a's completion error. If
// the driving coroutine fails instead, for example because a poll
// panicked, RunUntilComplete returns that failure and a may still be
// pending. The completion value, if any, is read from a afterwards.
func (l *Loop) RunUntilComplete(a Awaitable) error {
	co := l.spawn(Await(a), l.Stop)
	if err := l.Run(); err != nil {
		return err
	}
	if err := co.failure; err != nil {
		return err
	}
	return a.Err()
}

var runningLoops sync.Map // goroutine id → *Loop

// RunningLoop returns the [Loop] running on the current goroutine, or
// nil if there is none.
func RunningLoop() *Loop {
	if v, ok := runningLoops.Load(goroutineID()); ok {
		return v.(*Loop)
	}
	return nil
}

// goroutineID extracts the current goroutine's id from a stack header
// of the form "goroutine 123 [running]:".
func goroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b, ok := bytes.CutPrefix(b, []byte("goroutine "))
	if !ok {
		return -1
	}
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
