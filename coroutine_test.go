package aio_test

import (
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aiokit/aio"
)

func TestBlockOrder(t *testing.T) {
	var l aio.Loop

	var got []string
	step := func(s string) aio.Task {
		return aio.Do(func() { got = append(got, s) })
	}

	l.Spawn(aio.Block(step("a"), step("b"), step("c")).Then(aio.Do(l.Stop)))
	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b", "c"}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSignalNotify(t *testing.T) {
	var l aio.Loop

	var sig aio.Signal
	n := 0
	ended := false

	l.Spawn(aio.Task(func(co *aio.Coroutine) aio.Result {
		if n < 3 {
			return co.Yield(&sig)
		}
		return co.End()
	}).Then(aio.Do(func() { ended = true })))

	var ping func()
	ping = func() {
		n++
		sig.Notify()
		if n < 3 {
			l.CallSoon(ping)
		} else {
			l.CallSoon(l.Stop)
		}
	}
	l.CallSoon(ping)

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !ended {
		t.Fatal("watcher should have ended after three notifications")
	}
	if n != 3 {
		t.Fatalf("got %d notifications, want 3", n)
	}
}

func TestStateGuard(t *testing.T) {
	var l aio.Loop

	s := aio.NewState(0)
	var seen []int

	l.Spawn(func(co *aio.Coroutine) aio.Result {
		return co.Await(s).Until(func() bool { return s.Get() >= 3 }).Then(aio.Do(func() {
			seen = append(seen, s.Get())
		}))
	})

	var bump func()
	bump = func() {
		s.Set(s.Get() + 1)
		if s.Get() < 3 {
			l.CallSoon(bump)
		} else {
			l.CallSoon(l.Stop)
		}
	}
	l.CallSoon(bump)

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}

	// The guard held the coroutine through 1 and 2; the body saw only 3.
	if want := []int{3}; !slices.Equal(seen, want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
}

func TestCleanupOrder(t *testing.T) {
	var l aio.Loop

	var got []string
	l.Spawn(aio.Task(func(co *aio.Coroutine) aio.Result {
		co.CleanupFunc(func() { got = append(got, "first") })
		co.CleanupFunc(func() { got = append(got, "second") })
		return co.End()
	}).Then(aio.Do(l.Stop)))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	// Cleanups run in last-in first-out order when the task ends.
	if want := []string{"second", "first"}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCleanupOnResume(t *testing.T) {
	var l aio.Loop

	var got []string
	phase := 0
	l.Spawn(aio.Task(func(co *aio.Coroutine) aio.Result {
		if phase == 0 {
			phase = 1
			co.CleanupFunc(func() { got = append(got, "cleanup") })
			co.Resume()
			return co.Yield()
		}
		got = append(got, "body")
		return co.End()
	}).Then(aio.Do(l.Stop)))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"cleanup", "body"}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestThrowSkipsContinuations(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	aio.SetLogger(zap.New(core))
	defer aio.SetLogger(zap.NewNop())

	var l aio.Loop

	errBoom := errors.New("boom")
	ran := false
	l.Spawn(aio.Task(func(co *aio.Coroutine) aio.Result {
		return co.Throw(errBoom)
	}).Then(aio.Do(func() { ran = true })))
	if err := l.CallSoonThreadsafe(l.Stop); err != nil {
		t.Fatal(err)
	}

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("continuation should be skipped after a throw")
	}

	entries := logs.FilterMessage("aio: coroutine failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	err, _ := entries[0].Context[0].Interface.(error)
	if !errors.Is(err, errBoom) {
		t.Fatalf("logged error %v, want %v", err, errBoom)
	}
}

func TestTaskPanicFailsCoroutine(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	aio.SetLogger(zap.New(core))
	defer aio.SetLogger(zap.NewNop())

	var l aio.Loop

	survived := false
	l.Spawn(aio.Do(func() { panic("boom") }))
	l.Spawn(aio.Do(func() { survived = true }).Then(aio.Do(l.Stop)))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !survived {
		t.Fatal("loop should keep running after a coroutine failure")
	}

	entries := logs.FilterMessage("aio: coroutine failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	var pe *aio.PanicError
	err, _ := entries[0].Context[0].Interface.(error)
	if !errors.As(err, &pe) || pe.Value != "boom" {
		t.Fatalf("logged error %v, want a PanicError carrying boom", err)
	}
	if len(pe.Stack) == 0 {
		t.Fatal("PanicError should carry a stack trace")
	}
}

func TestJoin(t *testing.T) {
	var l aio.Loop

	ran := make([]bool, 3)
	tasks := make([]aio.Task, 3)
	for i := range tasks {
		tasks[i] = aio.Do(func() { ran[i] = true })
	}

	joined := false
	l.Spawn(aio.Join(tasks...).Then(aio.Do(func() {
		joined = ran[0] && ran[1] && ran[2]
		l.Stop()
	})))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !joined {
		t.Fatalf("join ended before its tasks: %v", ran)
	}
}

func TestJoinChildFails(t *testing.T) {
	var l aio.Loop

	ran := false
	joined := false
	l.Spawn(aio.Join(
		aio.Do(func() { ran = true }),
		func(co *aio.Coroutine) aio.Result { return co.Throw(errors.New("boom")) },
	).Then(aio.Do(func() { joined = true; l.Stop() })))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !joined {
		t.Fatal("join should end even when a task fails")
	}
	if !ran {
		t.Fatal("sibling task should still run")
	}
}

func TestJoinNothing(t *testing.T) {
	var l aio.Loop

	ended := false
	l.Spawn(aio.Join().Then(aio.Do(func() { ended = true; l.Stop() })))
	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !ended {
		t.Fatal("an empty join should end immediately")
	}
}

func TestWaitGroup(t *testing.T) {
	var l aio.Loop

	var wg aio.WaitGroup
	count := 0
	released := false

	l.Spawn(aio.Do(func() {
		for range 3 {
			wg.Go(&l, aio.Do(func() { count++ }))
		}
	}))
	l.Spawn(wg.Await().Then(aio.Do(func() {
		released = count == 3
		l.Stop()
	})))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !released {
		t.Fatalf("waiter released with count %d, want 3", count)
	}
}

func TestWaitGroupGoFailure(t *testing.T) {
	var l aio.Loop

	var wg aio.WaitGroup
	released := false

	l.Spawn(aio.Do(func() {
		wg.Go(&l, aio.Do(func() { panic("boom") }))
	}))
	l.Spawn(wg.Await().Then(aio.Do(func() { released = true; l.Stop() })))

	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !released {
		t.Fatal("a failing task should still count down")
	}
}

func TestWaitGroupNegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("negative counter should panic")
		}
	}()
	var wg aio.WaitGroup
	wg.Done()
}
