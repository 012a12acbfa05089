// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Precision matches Postgres timestamptz so stored and in-memory times compare
// equal after a round trip.
const Precision = time.Microsecond

// Clock reads UTC wall time at Precision.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
