// Package clock abstracts the passage of time for the SDO engines.
// Engines only ever need the current time and one-shot callbacks,
// tests substitute a [FakeClock] to drive timeouts deterministically.
package clock

import "time"

// Clock provides time and one-shot timers.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real clock) or
	// synchronously from Advance (fake clock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle on a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if
	// the callback already fired or the timer was already stopped.
	Stop() bool
}
