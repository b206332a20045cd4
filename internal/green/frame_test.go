package green

import (
	"errors"
	"testing"
	"time"
)

func pollUntilDone(t *testing.T, f *Frame, timeout time.Duration) Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if st := f.Poll(); st != Pending {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatal("frame did not complete within timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSleepFramePendingThenCompleted(t *testing.T) {
	f := SleepFrame(10 * time.Millisecond)

	if st := f.Poll(); st != Pending {
		t.Fatalf("first poll = %s, want pending", st)
	}

	start := time.Now()
	st := pollUntilDone(t, f, time.Second)
	if st != Completed {
		t.Fatalf("final status = %s, want completed", st)
	}
	if elapsed := time.Since(start); elapsed < 8*time.Millisecond {
		t.Errorf("sleep completed after %s, want >= ~10ms", elapsed)
	}
}

func TestPollAfterCompletionIsIdempotent(t *testing.T) {
	f := CompletedFrame(7)
	for i := 0; i < 3; i++ {
		if st := f.Poll(); st != Completed {
			t.Fatalf("poll %d = %s, want completed", i, st)
		}
		if f.Value() != 7 {
			t.Fatalf("poll %d value = %v, want 7", i, f.Value())
		}
	}
}

func TestFailedFrameStaysFailed(t *testing.T) {
	boom := errors.New("boom")
	f := NewFrame(func(f *Frame) { f.Fail(boom) })

	if st := f.Poll(); st != Failed {
		t.Fatalf("poll = %s, want failed", st)
	}
	// Completion slot is write-once.
	f.Complete("late")
	if st := f.Poll(); st != Failed || f.Err() != boom {
		t.Errorf("re-poll = %s err=%v, want failed/boom", st, f.Err())
	}
}

func TestGatherFramePreservesInputOrder(t *testing.T) {
	// c completes before a; the result order must still be a, b, c.
	a := SleepFrame(20 * time.Millisecond)
	b := SleepFrame(10 * time.Millisecond)
	c := CompletedFrame("c")

	g := GatherFrame([]*Frame{a, b, c})
	start := time.Now()
	if st := pollUntilDone(t, g, time.Second); st != Completed {
		t.Fatalf("gather status = %s, want completed", st)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("gather completed after %s, want >= ~20ms (max of children)", elapsed)
	}

	out, ok := g.Value().([]any)
	if !ok {
		t.Fatalf("gather value is %T, want []any", g.Value())
	}
	if len(out) != 3 {
		t.Fatalf("gather returned %d results, want 3", len(out))
	}
	if out[0] != nil || out[1] != nil || out[2] != "c" {
		t.Errorf("gather results = %v, want [nil nil c]", out)
	}
}

func TestGatherFrameFailsOnChildFailure(t *testing.T) {
	boom := errors.New("child failed")
	bad := NewFrame(func(f *Frame) { f.Fail(boom) })
	g := GatherFrame([]*Frame{CompletedFrame(1), bad})

	if st := g.Poll(); st != Failed {
		t.Fatalf("gather status = %s, want failed", st)
	}
	if !errors.Is(g.Err(), boom) {
		t.Errorf("gather err = %v, want %v", g.Err(), boom)
	}
}

func TestGatherFrameEmpty(t *testing.T) {
	g := GatherFrame(nil)
	if st := g.Poll(); st != Completed {
		t.Fatalf("empty gather = %s, want completed on first poll", st)
	}
	if out := g.Value().([]any); len(out) != 0 {
		t.Errorf("empty gather results = %v, want []", out)
	}
}

func TestNetpollerTick(t *testing.T) {
	frames := []*Frame{
		CompletedFrame(1),
		SleepFrame(5 * time.Millisecond),
		SleepFrame(5 * time.Millisecond),
	}
	np := Netpoller{}

	if pending := np.Tick(frames); pending != 2 {
		t.Errorf("first tick pending = %d, want 2", pending)
	}
	np.DriveAll(frames)
	if pending := np.Tick(frames); pending != 0 {
		t.Errorf("pending after drive = %d, want 0", pending)
	}
}

func TestNetpollerDriveUnwrapsResult(t *testing.T) {
	f := SleepFrame(2 * time.Millisecond)
	v, err := Netpoller{}.Drive(f)
	if err != nil {
		t.Fatalf("drive failed: %s", err)
	}
	if v != nil {
		t.Errorf("sleep result = %v, want nil", v)
	}
}

func TestFrameTaskAwait(t *testing.T) {
	task := NewFrameTask(SleepFrame(2 * time.Millisecond))
	if _, err := task.Await(); err != nil {
		t.Fatalf("await failed: %s", err)
	}
}

func TestThreadTaskAwait(t *testing.T) {
	s := newScheduler(t, 1)
	h, err := s.Spawn(func() (any, error) { return 9, nil })
	if err != nil {
		t.Fatalf("spawn failed: %s", err)
	}
	task := NewThreadTask(s, h)
	v, err := task.Await()
	if err != nil {
		t.Fatalf("await failed: %s", err)
	}
	if v != 9 {
		t.Errorf("result = %v, want 9", v)
	}
}
