package flow

import (
	"sync"
	"time"
)

// Clock schedules deferred work. The real implementation delegates to
// time.AfterFunc; tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a stoppable scheduled call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

type timerState int

const (
	timerIdle timerState = iota
	timerArmed
	timerFired
	timerDisarmed
)

// SessionTimer is the abandonment clock racing against commit. It fires
// at most once, is armed at most once per session, and is permanently
// disarmed the instant the flow confirms a booking. Re-renders and
// calendar navigation never touch it: the timeout is a property of the
// session, not the view.
type SessionTimer struct {
	mu       sync.Mutex
	clock    Clock
	state    timerState
	timer    Timer
	onExpire func()
}

// NewSessionTimer creates an unarmed timer. onExpire runs at most once.
func NewSessionTimer(clock Clock, onExpire func()) *SessionTimer {
	if clock == nil {
		clock = RealClock()
	}
	return &SessionTimer{clock: clock, onExpire: onExpire}
}

// Arm starts the countdown. Subsequent calls are no-ops: the session has
// exactly one deadline.
func (t *SessionTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != timerIdle {
		return
	}
	t.state = timerArmed
	t.timer = t.clock.AfterFunc(d, t.fire)
}

func (t *SessionTimer) fire() {
	t.mu.Lock()
	if t.state != timerArmed {
		t.mu.Unlock()
		return
	}
	t.state = timerFired
	fn := t.onExpire
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Disarm permanently cancels the countdown. Called exactly once, the
// instant the flow confirms; a late-firing timer must not corrupt a
// just-succeeded booking.
func (t *SessionTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != timerArmed {
		return
	}
	t.state = timerDisarmed
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Fired reports whether the timeout won the race.
func (t *SessionTimer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == timerFired
}
