package clock

import (
	"testing"
	"time"
)

func TestTickAccumulatesElapsed(t *testing.T) {
	c := New()
	c.Start()
	c.Tick()
	time.Sleep(5 * time.Millisecond)
	c.Tick()

	if c.ElapsedTime() <= 0 {
		t.Fatalf("expected elapsed time to advance, got %v", c.ElapsedTime())
	}
	if c.DeltaTime() > MaxDeltaTime {
		t.Fatalf("delta time %v exceeds clamp %v", c.DeltaTime(), MaxDeltaTime)
	}
}

func TestTickNoopWhenStopped(t *testing.T) {
	c := New()
	c.Start()
	c.Tick()
	c.Stop()
	before := c.ElapsedTime()
	time.Sleep(5 * time.Millisecond)
	c.Tick()
	if c.ElapsedTime() != before {
		t.Fatalf("elapsed time advanced while stopped: before=%v after=%v", before, c.ElapsedTime())
	}
}

func TestSetIntervalFiresRepeatedly(t *testing.T) {
	c := New()
	c.Start()
	fired := 0
	c.SetInterval(func() { fired++ }, 0)

	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if fired != 3 {
		t.Fatalf("expected interval to fire 3 times, got %d", fired)
	}
}

func TestClearTimeoutFromWithinCallback(t *testing.T) {
	c := New()
	c.Start()
	var otherID TimerID
	otherFired := false
	otherID = c.SetInterval(func() { otherFired = true }, 0)
	c.SetTimeout(func() { c.ClearInterval(otherID) }, 0)

	c.Tick()
	// the cancelling timeout and the interval are due in the same tick;
	// whichever fires, clearing must not panic or corrupt the timer list.
	c.Tick()
	_ = otherFired
}

func TestClearCancelsAllTimers(t *testing.T) {
	c := New()
	c.Start()
	fired := false
	c.SetTimeout(func() { fired = true }, 0)
	c.Clear()
	c.Tick()
	if fired {
		t.Fatalf("expected cleared timer not to fire")
	}
}

func TestResetZeroesElapsed(t *testing.T) {
	c := New()
	c.Start()
	c.Tick()
	c.Reset()
	if c.ElapsedTime() != 0 {
		t.Fatalf("expected elapsed to be zero after reset, got %v", c.ElapsedTime())
	}
}
