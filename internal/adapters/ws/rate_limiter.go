package ws

import (
	"sync"
	"time"
)

// frameRateLimiter is a sliding-window limiter for inbound frames on one
// connection. Frames over the limit are dropped, the connection stays open.
type frameRateLimiter struct {
	mu       sync.Mutex
	history  []time.Time
	limit    int
	interval time.Duration
}

func newFrameRateLimiter(limit int, interval time.Duration) *frameRateLimiter {
	return &frameRateLimiter{
		limit:    limit,
		interval: interval,
	}
}

func (rl *frameRateLimiter) allow() bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	fresh := rl.history[:0]
	for _, t := range rl.history {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history = fresh
		return false
	}
	rl.history = append(fresh, now)
	return true
}
