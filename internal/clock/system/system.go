// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock with UTC wall time.
type Clock struct{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to microseconds, which is what
// Postgres timestamps and the run summary can represent.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
