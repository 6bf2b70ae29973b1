// Package ratelimit provides a per-key fixed-window request limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Keyed allows rate requests per window for each key independently. Windows
// reset lazily on the next Allow call; Sweep reclaims idle keys.
type Keyed struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

// visitor tracks request counts within the current window for a single key.
type visitor struct {
	count       int
	windowStart time.Time
}

// New creates a limiter that allows rate requests per window per key.
func New(rate int, window time.Duration) *Keyed {
	return &Keyed{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
}

// Allow returns true if key has not exceeded its rate limit in the current
// window. A key's window restarts once the previous one has fully elapsed.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	v, exists := k.visitors[key]
	if !exists || now.Sub(v.windowStart) > k.window {
		k.visitors[key] = &visitor{count: 1, windowStart: now}
		return true
	}
	v.count++
	return v.count <= k.rate
}

// Window returns the configured window length. Callers surface it as the
// implicit retry-after on rejection.
func (k *Keyed) Window() time.Duration {
	return k.window
}

// Sweep removes keys whose window has expired and returns how many were
// dropped.
func (k *Keyed) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	n := 0
	for key, v := range k.visitors {
		if now.Sub(v.windowStart) > k.window {
			delete(k.visitors, key)
			n++
		}
	}
	return n
}
