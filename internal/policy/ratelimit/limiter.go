// Package ratelimit implements per-client token buckets guarding the upload route.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-file-converter/internal/metrics"
)

// Limiter manages per-client rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*entry
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter configuration. A non-positive RatePerSecond
// disables limiting.
type Config struct {
	RatePerSecond float64
	Burst         int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*entry),
		defaultRate:  r,
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Enabled reports whether the limiter can ever reject.
func (l *Limiter) Enabled() bool {
	return l != nil && l.defaultRate != rate.Inf
}

// Allow consumes a token for client, reporting false when none is left.
func (l *Limiter) Allow(client string) bool {
	if !l.Enabled() {
		return true
	}
	if l.bucket(client).Allow() {
		return true
	}
	metrics.ObserveRateLimited()
	return false
}

// Wait blocks until a token is available for client, respecting the context.
func (l *Limiter) Wait(ctx context.Context, client string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.bucket(client).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Prune forgets clients idle for longer than idle and returns how many it
// removed.
func (l *Limiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len reports tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) bucket(client string) *rate.Limiter {
	if client == "" {
		client = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[client]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.limiters[client] = e
	}
	e.lastSeen = l.now()
	return e.limiter
}
