// Package throttle suppresses repeated warn-path log lines. A key is
// allowed once per cooldown; a misbehaving source cannot flood the logs.
package throttle

import (
	"sync"
	"time"
)

type Throttle struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

func New(cooldown time.Duration) *Throttle {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Throttle{
		last:     make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Allow reports whether key is outside its cooldown and, if so, starts a
// new cooldown for it.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.last[key] = now

	// Opportunistic cleanup keeps the map bounded by active keys.
	if len(t.last) > 4096 {
		for k, v := range t.last {
			if now.Sub(v) >= t.cooldown {
				delete(t.last, k)
			}
		}
	}
	return true
}
