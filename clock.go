package aio

import (
	"math"
	"time"

	"fortio.org/safecast"
)

// A Clock supplies timestamps and idle waiting for [Loop] timers.
// Timestamps are in milliseconds since an arbitrary origin and never
// decrease.
type Clock interface {
	// NowMs returns the current timestamp in milliseconds.
	NowMs() uint64
	// WaitMs blocks until deadlineMs is reached or until wake receives,
	// whichever happens first.
	WaitMs(deadlineMs uint64, wake <-chan struct{})
}

// A RealClock measures monotonic wall time since its creation.
type RealClock struct {
	start time.Time
}

// NewRealClock creates a new [RealClock].
func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

func (c *RealClock) NowMs() uint64 {
	ms, err := safecast.Conv[uint64](time.Since(c.start).Milliseconds())
	if err != nil {
		return 0
	}
	return ms
}

func (c *RealClock) WaitMs(deadlineMs uint64, wake <-chan struct{}) {
	now := c.NowMs()
	if deadlineMs <= now {
		return
	}
	delta := deadlineMs - now
	if maxMs := uint64(math.MaxInt64 / int64(time.Millisecond)); delta > maxMs {
		delta = maxMs
	}
	ms, err := safecast.Conv[int64](delta)
	if err != nil {
		return
	}
	tm := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer tm.Stop()
	select {
	case <-wake:
	case <-tm.C:
	}
}

// A VirtualClock jumps to the deadline instead of sleeping, making timer
// scheduling deterministic in tests. It must only be advanced by the
// goroutine that runs the loop.
type VirtualClock struct {
	ms uint64
}

// NewVirtualClock creates a new [VirtualClock] starting at zero.
func NewVirtualClock() *VirtualClock {
	return new(VirtualClock)
}

func (c *VirtualClock) NowMs() uint64 { return c.ms }

func (c *VirtualClock) WaitMs(deadlineMs uint64, wake <-chan struct{}) {
	select {
	case <-wake:
		return
	default:
	}
	if deadlineMs > c.ms {
		c.ms = deadlineMs
	}
}

// AdvanceMs advances c by ms milliseconds.
func (c *VirtualClock) AdvanceMs(ms uint64) {
	c.ms += ms
}

// durationToMs converts d to whole milliseconds, rounding up.
func durationToMs(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	if limit := time.Duration(math.MaxInt64) - time.Millisecond + 1; d > limit {
		d = limit
	}
	ms, err := safecast.Conv[uint64](int64((d + time.Millisecond - 1) / time.Millisecond))
	if err != nil {
		return 0
	}
	return ms
}
