package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"userphone/internal/status"
	"userphone/models"

	"github.com/redis/go-redis/v9"
)

// Guard caps how many calls one origin group (guild) may place per window.
type Guard interface {
	// Allow consumes one slot for origin or returns status.ErrRateLimited.
	// An empty origin is never limited.
	Allow(ctx context.Context, origin string) error
	Limit() int
	Period() time.Duration
}

// WindowGuard keeps one lazily reset window per origin in memory.
type WindowGuard struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]models.RateWindow
	nowFn   func() time.Time
}

func NewWindowGuard(limit int, window time.Duration, nowFn func() time.Time) *WindowGuard {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &WindowGuard{
		limit:   limit,
		window:  window,
		windows: make(map[string]models.RateWindow),
		nowFn:   nowFn,
	}
}

func (g *WindowGuard) Limit() int { return g.limit }

func (g *WindowGuard) Period() time.Duration { return g.window }

func (g *WindowGuard) Allow(_ context.Context, origin string) error {
	if origin == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	w, ok := g.windows[origin]
	if !ok || now.After(w.ResetAt) {
		w = models.RateWindow{Used: 0, ResetAt: now.Add(g.window)}
	}
	if w.Used >= g.limit {
		return status.ErrRateLimited
	}
	w.Used++
	g.windows[origin] = w
	return nil
}

// Window returns the current state for origin, mostly for diagnostics.
func (g *WindowGuard) Window(origin string) (models.RateWindow, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[origin]
	return w, ok
}

// The counter only moves on success, and the key expires when the window
// that started with the first call runs out.
const allowScript = `
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used >= tonumber(ARGV[1]) then
	return 0
end
used = redis.call('INCR', KEYS[1])
if used == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`

// RedisGuard shares the per-origin window across instances.
type RedisGuard struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRedisGuard(redisClient *redis.Client, limit int, window time.Duration) *RedisGuard {
	return &RedisGuard{redis: redisClient, limit: limit, window: window}
}

func (g *RedisGuard) Limit() int { return g.limit }

func (g *RedisGuard) Period() time.Duration { return g.window }

func rateKey(origin string) string {
	return fmt.Sprintf("up:rate:%s", origin)
}

func (g *RedisGuard) Allow(ctx context.Context, origin string) error {
	if origin == "" {
		return nil
	}

	allowed, err := g.redis.Eval(ctx, allowScript, []string{rateKey(origin)}, g.limit, g.window.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("rate window %s: %w", origin, err)
	}
	if allowed == 0 {
		return status.ErrRateLimited
	}
	return nil
}

// NewGuard picks the Redis guard when a client is available.
func NewGuard(redisClient *redis.Client, limit int, window time.Duration) Guard {
	if redisClient == nil {
		return NewWindowGuard(limit, window, time.Now)
	}
	return NewRedisGuard(redisClient, limit, window)
}
