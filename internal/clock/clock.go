// Package clock abstracts the time source used by the event loop so that
// timer-driven behavior (greeter escalation, auto-lock, fade ramps) can be
// driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake() and move time forward with
// Advance; AfterFunc callbacks whose deadline is reached run synchronously
// inside Advance, in deadline order.
package clock

import "time"

// Clock is the time source.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. The returned Timer cancels
	// the pending call. If d <= 0, f runs as soon as possible.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
