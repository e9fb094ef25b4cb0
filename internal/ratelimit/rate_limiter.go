// Package ratelimit throttles draw attempts per client.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// DefaultPerMinute is the default number of attempts per client per minute.
const DefaultPerMinute = 10

// RateLimiter implements per-client rate limiting over fixed one-minute
// windows.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*ClientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

// ClientLimit tracks rate limiting for a single client.
type ClientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing perMinute attempts per client.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*ClientLimit),
		limit:   perMinute,
		window:  time.Minute,
		now:     time.Now,
	}
}

// Allow records an attempt by clientID and reports whether it is allowed.
func (rl *RateLimiter) Allow(clientID string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[clientID]
	if !exists {
		rl.clients[clientID] = &ClientLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= rl.limit {
		return false
	}

	limit.count++
	return true
}

// Cleanup removes clients idle for five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for clientID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, clientID)
		}
	}
}

// Run calls Cleanup every interval until stop is closed.
func (rl *RateLimiter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-stop:
			return
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
