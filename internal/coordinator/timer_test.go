package coordinator

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTimerTimeout(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	tm := NewSoftwareTimer(clk.Now)
	fired := 0
	tm.SetTimeout("join", 30*time.Second, func() { fired++ })

	tm.Run()
	clk.advance(29 * time.Second)
	tm.Run()
	if fired != 0 {
		t.Fatalf("fired early")
	}
	clk.advance(time.Second)
	tm.Run()
	tm.Run()
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	if tm.Armed("join") {
		t.Error("one-shot still armed")
	}
}

func TestTimerInterval(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	tm := NewSoftwareTimer(clk.Now)
	fired := 0
	tm.SetInterval("ping", time.Minute, func() { fired++ })
	for range 3 {
		clk.advance(time.Minute)
		tm.Run()
	}
	if fired != 3 {
		t.Errorf("fired %d times, want 3", fired)
	}
	tm.Cancel("ping")
	clk.advance(time.Minute)
	tm.Run()
	if fired != 3 {
		t.Error("fired after Cancel")
	}
}

func TestTimerCallbackRearms(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	tm := NewSoftwareTimer(clk.Now)
	fired := 0
	var fn func()
	fn = func() {
		fired++
		tm.SetTimeout("once", time.Second, fn)
	}
	tm.SetTimeout("once", time.Second, fn)
	clk.advance(time.Second)
	tm.Run()
	if !tm.Armed("once") {
		t.Fatal("callback could not re-arm")
	}
	clk.advance(time.Second)
	tm.Run()
	if fired != 2 {
		t.Errorf("fired %d", fired)
	}
}
