// internal/room/ratelimit.go
package room

import "time"

// RateLimiter is a per-connection sliding-window counter. It is owned by the
// room and only touched while the room lock is held, so it needs no locking
// of its own.
type RateLimiter struct {
	window time.Duration
	max    int

	windowStart time.Time
	count       int
}

// NewRateLimiter allows up to max events per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{window: window, max: max}
}

// Allow records one event at the given instant and reports whether the
// connection is still within its budget. Once the window elapses the counter
// resets.
func (rl *RateLimiter) Allow(now time.Time) bool {
	if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rl.window {
		rl.windowStart = now
		rl.count = 0
	}
	rl.count++
	return rl.count <= rl.max
}
