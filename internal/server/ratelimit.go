package server

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window request quota per client IP. Expired
// windows are pruned opportunistically so the map never grows unbounded.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	limit     int
	window    time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type rateWindow struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a request from ip and reports whether it is within quota.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) >= rl.window {
		rl.pruneLocked(now)
		rl.lastPrune = now
	}

	w, ok := rl.windows[ip]
	if !ok || now.After(w.resetTime) {
		rl.windows[ip] = &rateWindow{count: 1, resetTime: now.Add(rl.window)}
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	for ip, w := range rl.windows {
		if now.After(w.resetTime) {
			delete(rl.windows, ip)
		}
	}
}
