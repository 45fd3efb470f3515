package router

import (
	"sync"
	"time"

	"carechat/pkg/types"
)

// RateLimiter caps chat messages per user per fixed one-minute window
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[types.ID]*clientWindow
	now     func() time.Time
}

// clientWindow tracks one user's usage of the current window
type clientWindow struct {
	count int
	start time.Time
}

// NewRateLimiter allows perMinute messages per user per minute. It returns
// nil when perMinute is not positive, and a nil limiter allows everything.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   perMinute,
		window:  time.Minute,
		clients: make(map[types.ID]*clientWindow),
		now:     time.Now,
	}
}

// Allow records one message from userID and reports whether it fits.
func (rl *RateLimiter) Allow(userID types.ID) bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[userID]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[userID] = &clientWindow{count: 1, start: now}
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup forgets users idle for five windows.
func (rl *RateLimiter) Cleanup() int {
	if rl == nil {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, w := range rl.clients {
		if now.Sub(w.start) > 5*rl.window {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Tracked returns how many users currently have a window.
func (rl *RateLimiter) Tracked() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
