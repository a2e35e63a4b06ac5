package network

import (
	"net"

	"golang.org/x/time/rate"
)

// maxPendingLimiters bounds the connect-attempt limiter map so an attacker
// sweeping source addresses cannot grow it without bound; the oldest entry
// is evicted to make room for a new address once the cap is hit.
const maxPendingLimiters = 256

const (
	connectAttemptsPerSecond = 2
	connectAttemptBurst      = 4
)

// connectLimiter throttles CONNECT_REQUEST processing per source address,
// independently of whether that address ever becomes a real Connection.
// This is flood resistance at the handshake boundary, not gameplay
// anti-cheat.
type connectLimiter struct {
	limiters map[string]*rate.Limiter
	order    []string
}

func newConnectLimiter() *connectLimiter {
	return &connectLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a CONNECT_REQUEST from addr should be processed.
func (c *connectLimiter) Allow(addr *net.UDPAddr) bool {
	key := addr.String()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(connectAttemptsPerSecond), connectAttemptBurst)
		c.evictIfFull()
		c.limiters[key] = lim
		c.order = append(c.order, key)
	}
	return lim.Allow()
}

func (c *connectLimiter) evictIfFull() {
	if len(c.limiters) < maxPendingLimiters {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.limiters, oldest)
}

// Forget removes addr's limiter, called once it becomes a real Connection
// so the pending-limiter map does not grow unboundedly with well-behaved
// clients.
func (c *connectLimiter) Forget(addr *net.UDPAddr) {
	key := addr.String()
	if _, ok := c.limiters[key]; !ok {
		return
	}
	delete(c.limiters, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
