package aio

import (
	"slices"
	"sort"
)

const (
	timerScheduled int8 = iota
	timerStopped
	timerFired
)

// A Timer is a cancelable callback created by [Loop.CallLater].
type Timer struct {
	l     *Loop
	when  uint64 // deadline in clock milliseconds
	seq   uint64 // breaks deadline ties in scheduling order
	f     func()
	state int8 // guarded by l.mu
}

// Stop cancels tm. It reports whether it prevented the callback from
// running.
//
// Stop is safe for concurrent use.
func (tm *Timer) Stop() bool {
	tm.l.mu.Lock()
	defer tm.l.mu.Unlock()
	if tm.state != timerScheduled {
		return false
	}
	tm.state = timerStopped
	return true
}

func (tm *Timer) less(other *Timer) bool {
	if tm.when != other.when {
		return tm.when < other.when
	}
	return tm.seq < other.seq
}

// A timerQueue keeps timers sorted by deadline, then by scheduling
// order. Stopped timers are dropped lazily when they reach the front.
// All methods are called with the owning loop's mutex held.
type timerQueue struct {
	s []*Timer
}

func (q *timerQueue) push(tm *Timer) {
	i := sort.Search(len(q.s), func(i int) bool { return tm.less(q.s[i]) })
	q.s = slices.Insert(q.s, i, tm)
}

// peek returns the earliest scheduled timer, or nil if there is none.
func (q *timerQueue) peek() *Timer {
	for len(q.s) != 0 {
		if tm := q.s[0]; tm.state == timerScheduled {
			return tm
		}
		q.s[0] = nil
		q.s = q.s[1:]
	}
	return nil
}

// pop removes and returns the front timer. It must follow a successful
// peek.
func (q *timerQueue) pop() *Timer {
	tm := q.s[0]
	q.s[0] = nil
	q.s = q.s[1:]
	return tm
}
