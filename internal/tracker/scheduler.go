package tracker

import "time"

// Ticker is the subset of time.Ticker the poll loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Scheduler creates the timers behind polling and reconnects.
type Scheduler interface {
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

type realScheduler struct{}

type realTicker struct {
	t *time.Ticker
}

func (realScheduler) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

func (realScheduler) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (t realTicker) C() <-chan time.Time { return t.t.C }

func (t realTicker) Stop() { t.t.Stop() }
