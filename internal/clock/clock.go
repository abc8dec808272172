// ABOUTME: Time abstraction so background schedules can be driven deterministically in tests
// ABOUTME: Real() wraps the time package; Fake advances only when told to

package clock

import "time"

// Clock is the subset of the time package used by scheduled components.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or during Advance (fake)
	// once d has elapsed. The returned Timer belongs to the caller alone.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a handle to one pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped a pending timer; false means it already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
