// Package clock abstracts wall-clock time so the scheduler and the
// date operators can run against a controllable clock in tests.
package clock

import "time"

// Clock provides the current time and timers. The system clock is used
// in production; tests substitute a manually advanced fake.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of time.Timer the scheduler needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// System returns a Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (st systemTimer) C() <-chan time.Time        { return st.t.C }
func (st systemTimer) Stop() bool                 { return st.t.Stop() }
func (st systemTimer) Reset(d time.Duration) bool { return st.t.Reset(d) }
