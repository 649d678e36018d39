package manager

import (
	"sync"
	"time"
)

// DefaultInboundPerMinute caps how many frames one connection may submit per
// minute before further frames are rejected.
const DefaultInboundPerMinute = 100

type clientWindow struct {
	count       int
	windowStart time.Time
}

// rateLimiter applies a fixed per-minute window per connection id. Windows
// reset on their first message past the minute boundary.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientWindow
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		limit = DefaultInboundPerMinute
	}
	return &rateLimiter{
		limit:   limit,
		clients: make(map[string]*clientWindow),
	}
}

func (rl *rateLimiter) allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window, exists := rl.clients[connID]
	if !exists || now.Sub(window.windowStart) >= time.Minute {
		rl.clients[connID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if window.count >= rl.limit {
		return false
	}
	window.count++
	return true
}

// forget drops a connection's window. Called on disconnect so the map stays
// bounded by the live connection count.
func (rl *rateLimiter) forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connID)
}
