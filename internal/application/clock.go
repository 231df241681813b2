package application

import "time"

// SystemClock is the default clock, backed by time.Now. Services take
// their own Clock interface so tests can pin time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
