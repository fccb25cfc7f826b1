// Package ratelimit implements a per-key sliding window request limiter
// for the control plane.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the sliding interval over which requests are counted.
const Window = time.Minute

// Result reports the outcome of a limiter check, with the values the
// gateway surfaces as X-RateLimit-* headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the oldest counted request leaves the window, i.e. the
	// earliest time a denied caller could be admitted again.
	Reset time.Time
}

// Limiter tracks request timestamps per key. Each key carries its own
// limit, taken from the API key record at check time.
type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

// New returns an empty limiter.
func New() *Limiter {
	return &Limiter{history: make(map[string][]time.Time), now: time.Now}
}

// Check records a request for key if admitted and returns the decision.
// A limit <= 0 means unlimited.
func (l *Limiter) Check(key string, limit int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-Window)

	recent := l.history[key][:0]
	for _, ts := range l.history[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if limit <= 0 {
		recent = append(recent, now)
		l.history[key] = recent
		return Result{Allowed: true, Limit: 0, Remaining: -1, Reset: now.Add(Window)}
	}

	if len(recent) >= limit {
		l.history[key] = recent
		return Result{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			Reset:     recent[0].Add(Window),
		}
	}

	recent = append(recent, now)
	l.history[key] = recent
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(recent),
		Reset:     recent[0].Add(Window),
	}
}

// Forget drops all history for a key, e.g. after key revocation.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, key)
}
