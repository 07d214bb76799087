package notify

import "time"

// Timer is a cancelable one-shot countdown.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the timer was still pending.
	Stop() bool
}

// Clock is the time source the scheduler runs on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock uses the runtime timers.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc runs f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
