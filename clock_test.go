package aio

import (
	"math"
	"testing"
	"time"
)

func TestDurationToMs(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want uint64
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{time.Millisecond + time.Nanosecond, 2},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
		{math.MaxInt64, uint64(math.MaxInt64 / int64(time.Millisecond))},
	}
	for _, c := range cases {
		if got := durationToMs(c.d); got != c.want {
			t.Errorf("durationToMs(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestVirtualClockJumps(t *testing.T) {
	c := NewVirtualClock()
	wake := make(chan struct{}, 1)

	c.WaitMs(250, wake)
	if got := c.NowMs(); got != 250 {
		t.Fatalf("got %d, want 250", got)
	}

	// A pending wake takes priority over the jump.
	wake <- struct{}{}
	c.WaitMs(1000, wake)
	if got := c.NowMs(); got != 250 {
		t.Fatalf("got %d, want 250 after a woken wait", got)
	}

	c.AdvanceMs(50)
	if got := c.NowMs(); got != 300 {
		t.Fatalf("got %d, want 300", got)
	}

	// Waiting for a deadline in the past does not rewind.
	c.WaitMs(100, wake)
	if got := c.NowMs(); got != 300 {
		t.Fatalf("got %d, want 300 after a past deadline", got)
	}
}

func TestRealClockAdvances(t *testing.T) {
	c := NewRealClock()
	a := c.NowMs()
	time.Sleep(5 * time.Millisecond)
	b := c.NowMs()
	if b < a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}

	wake := make(chan struct{}, 1)
	start := c.NowMs()
	c.WaitMs(start+20, wake)
	if got := c.NowMs(); got < start+15 {
		t.Fatalf("woke after %dms, want about 20ms", got-start)
	}

	// A wake cuts the wait short.
	wake <- struct{}{}
	start = c.NowMs()
	c.WaitMs(start+10_000, wake)
	if got := c.NowMs(); got > start+5_000 {
		t.Fatalf("wake did not cut the wait short (%dms)", got-start)
	}
}
