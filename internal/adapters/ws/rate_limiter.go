package ws

import (
	"sync"
	"time"
)

// CommandRateLimiter caps how many commands a user may issue inside a
// sliding window, across all of their connections.
type CommandRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewCommandRateLimiter(limit int, interval time.Duration) *CommandRateLimiter {
	return &CommandRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *CommandRateLimiter) Allow(username string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[username]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[username] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[username] = fresh
	return true
}
