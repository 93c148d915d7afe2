// Package ratelimit counts failed beacon attempts per source IP over a
// sliding window and blocks a source once it exceeds the budget.
package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu            sync.Mutex
	entries       map[string]*entry
	maxAttempts   int
	window        time.Duration
	blockDuration time.Duration
	now           func() time.Time
}

func New(maxAttempts int, window, blockDuration time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if blockDuration <= 0 {
		blockDuration = time.Minute
	}
	return &Limiter{
		entries:       make(map[string]*entry),
		maxAttempts:   maxAttempts,
		window:        window,
		blockDuration: blockDuration,
		now:           time.Now,
	}
}

// RecordFailure registers a failed attempt for ip and reports whether the
// source is now (or already was) blocked. An already-blocked source does
// not accumulate further attempts.
func (l *Limiter) RecordFailure(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.entries[ip]
	if e == nil {
		e = &entry{}
		l.entries[ip] = e
	}

	if now.Before(e.blockedUntil) {
		return true
	}

	e.attempts = append(e.attempts, now)
	e.prune(now.Add(-l.window))

	if len(e.attempts) >= l.maxAttempts {
		e.blockedUntil = now.Add(l.blockDuration)
		e.attempts = nil
		return true
	}
	return false
}

// IsBlocked reports whether ip is currently blocked. Expired blocks are
// cleared lazily.
func (l *Limiter) IsBlocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[ip]
	if e == nil {
		return false
	}
	now := l.now()
	if !e.blockedUntil.IsZero() && !now.Before(e.blockedUntil) {
		e.blockedUntil = time.Time{}
	}
	if now.Before(e.blockedUntil) {
		return true
	}
	e.prune(now.Add(-l.window))
	if len(e.attempts) == 0 && e.blockedUntil.IsZero() {
		delete(l.entries, ip)
	}
	return false
}

// Remaining returns how many failures ip has left before being blocked.
func (l *Limiter) Remaining(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[ip]
	if e == nil {
		return l.maxAttempts
	}
	now := l.now()
	if now.Before(e.blockedUntil) {
		return 0
	}
	e.prune(now.Add(-l.window))
	left := l.maxAttempts - len(e.attempts)
	if left < 0 {
		left = 0
	}
	return left
}

func (e *entry) prune(cutoff time.Time) {
	i := 0
	for i < len(e.attempts) && !e.attempts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.attempts = append(e.attempts[:0], e.attempts[i:]...)
	}
}
