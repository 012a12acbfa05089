package tracker

import (
	"math"
	"time"
)

// Backoff yields reconnect delays that grow by Multiplier from Initial up to
// Max. A Multiplier of 1 keeps the delay constant.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	attempt int
}

// NewBackoff returns a Backoff with the given shape, filling zero values with
// a 2s constant schedule.
func NewBackoff(initial, maxDelay time.Duration, multiplier float64) *Backoff {
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return &Backoff{Initial: initial, Max: maxDelay, Multiplier: multiplier}
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if delay > float64(b.Max) || math.IsInf(delay, 1) {
		delay = float64(b.Max)
	} else {
		b.attempt++
	}
	return time.Duration(delay)
}

// Reset restarts the schedule at Initial.
func (b *Backoff) Reset() {
	b.attempt = 0
}
