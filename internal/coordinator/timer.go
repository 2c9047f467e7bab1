package coordinator

import (
	"sync"
	"time"
)

// Named timers used by the gateway.
const (
	timerPing       = "ping"
	timerJoin       = "join"
	timerPermitJoin = "permit_join"
)

type timerEntry struct {
	deadline time.Time
	interval time.Duration // zero for one-shot
	fn       func()
}

// SoftwareTimer schedules callbacks that run only when Run is called, so they
// execute on the caller's goroutine (the network loop).
type SoftwareTimer struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*timerEntry
}

// NewSoftwareTimer uses now as its clock; nil means time.Now.
func NewSoftwareTimer(now func() time.Time) *SoftwareTimer {
	if now == nil {
		now = time.Now
	}
	return &SoftwareTimer{now: now, entries: make(map[string]*timerEntry)}
}

// SetInterval runs fn every d, replacing any timer with the same name.
func (t *SoftwareTimer) SetInterval(name string, d time.Duration, fn func()) {
	t.set(name, d, d, fn)
}

// SetTimeout runs fn once after d, replacing any timer with the same name.
func (t *SoftwareTimer) SetTimeout(name string, d time.Duration, fn func()) {
	t.set(name, d, 0, fn)
}

func (t *SoftwareTimer) set(name string, d, interval time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[name] = &timerEntry{deadline: t.now().Add(d), interval: interval, fn: fn}
}

// Cancel disarms a timer. Unknown names are ignored.
func (t *SoftwareTimer) Cancel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, name)
}

// Armed reports whether a timer is pending.
func (t *SoftwareTimer) Armed(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[name]
	return ok
}

// Run invokes every due callback. One-shots are removed before they run and
// periodic timers are rescheduled from now, so a callback may re-arm itself.
func (t *SoftwareTimer) Run() {
	now := t.now()
	var due []func()
	t.mu.Lock()
	for name, e := range t.entries {
		if now.Before(e.deadline) {
			continue
		}
		due = append(due, e.fn)
		if e.interval > 0 {
			e.deadline = now.Add(e.interval)
		} else {
			delete(t.entries, name)
		}
	}
	t.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}
