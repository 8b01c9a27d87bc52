package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown throttles relayed messages per user. A message is let through only
// when at least `every` has passed since the last one that was let through.
type Cooldown struct {
	mu       sync.Mutex
	every    time.Duration
	ttl      time.Duration
	visitors map[string]*visitor
	lastGC   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewCooldown(every time.Duration) *Cooldown {
	return &Cooldown{
		every:    every,
		ttl:      10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether userID may send at time at. Dropped messages do not
// push the next allowed time forward.
func (c *Cooldown) Allow(userID string, at time.Time) bool {
	if c.every <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(c.every), 1)}
		c.visitors[userID] = v
	}
	v.lastSeen = at

	c.gc(at)
	return v.limiter.AllowN(at, 1)
}

// opportunistic sweep of idle users, at most once per ttl
func (c *Cooldown) gc(now time.Time) {
	if now.Sub(c.lastGC) < c.ttl {
		return
	}
	c.lastGC = now
	for id, v := range c.visitors {
		if now.Sub(v.lastSeen) > c.ttl {
			delete(c.visitors, id)
		}
	}
}
