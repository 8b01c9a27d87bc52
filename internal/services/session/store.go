// Package session keeps the registry of live calls: who is paired with whom,
// when the call started and whether it is anonymous.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is implemented by the Redis and in-memory backends. Both must make
// StartCall and EndCall appear atomic to every reader.
type Store interface {
	StartCall(ctx context.Context, a, b string, anonymous bool) error
	// EndCall returns ok=false, and no error, when the endpoint is not in a call.
	EndCall(ctx context.Context, endpoint string) (partner string, ok bool, err error)
	IsInCall(ctx context.Context, endpoint string) (bool, error)
	Partner(ctx context.Context, endpoint string) (string, bool, error)
	// CallDuration is in whole minutes.
	CallDuration(ctx context.Context, endpoint string) (int, bool, error)
	IsAnonymous(ctx context.Context, endpoint string) (bool, error)
	ActiveCallCount(ctx context.Context) (int, error)
	ActiveCalls(ctx context.Context) (map[string]string, error)
}

type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// NewStore picks the backend once. A nil client means Redis is disabled.
func NewStore(rdb *redis.Client) (Store, Backend) {
	if rdb == nil {
		slog.Warn("redis disabled, session store running in memory")
		return NewMemoryStore(time.Now), BackendMemory
	}
	return NewRedisStore(rdb, time.Now), BackendRedis
}

func minutesSince(start, now time.Time) int {
	return int(now.Sub(start) / time.Minute)
}
