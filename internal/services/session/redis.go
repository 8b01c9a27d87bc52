package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"userphone/internal/status"

	"github.com/redis/go-redis/v9"
)

const (
	activeKey  = "up:active"
	startedKey = "up:started"
	anonKey    = "up:anon"
)

// Both directions, the start time and the anonymity marker are written in one
// script so no reader ever sees a one-sided pairing.
const startCallScript = `
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 or redis.call('HEXISTS', KEYS[1], ARGV[2]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3], ARGV[2], ARGV[3])
if ARGV[4] == '1' then
	redis.call('SADD', KEYS[3], ARGV[1], ARGV[2])
end
return 1
`

const endCallScript = `
local partner = redis.call('HGET', KEYS[1], ARGV[1])
if not partner then
	return false
end
redis.call('HDEL', KEYS[1], ARGV[1], partner)
redis.call('HDEL', KEYS[2], ARGV[1], partner)
redis.call('SREM', KEYS[3], ARGV[1], partner)
return partner
`

type RedisStore struct {
	Redis *redis.Client
	nowFn func() time.Time
}

func NewRedisStore(redisClient *redis.Client, nowFn func() time.Time) *RedisStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &RedisStore{Redis: redisClient, nowFn: nowFn}
}

func sessionKeys() []string {
	return []string{activeKey, startedKey, anonKey}
}

func (s *RedisStore) StartCall(ctx context.Context, a, b string, anonymous bool) error {
	flag := "0"
	if anonymous {
		flag = "1"
	}

	created, err := s.Redis.Eval(ctx, startCallScript, sessionKeys(), a, b, s.nowFn().Unix(), flag).Int()
	if err != nil {
		return fmt.Errorf("start call %s<->%s: %w", a, b, err)
	}
	if created == 0 {
		return status.ErrAlreadyInCall
	}
	return nil
}

func (s *RedisStore) EndCall(ctx context.Context, endpoint string) (string, bool, error) {
	partner, err := s.Redis.Eval(ctx, endCallScript, sessionKeys(), endpoint).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("end call %s: %w", endpoint, err)
	}
	return partner, true, nil
}

func (s *RedisStore) IsInCall(ctx context.Context, endpoint string) (bool, error) {
	return s.Redis.HExists(ctx, activeKey, endpoint).Result()
}

func (s *RedisStore) Partner(ctx context.Context, endpoint string) (string, bool, error) {
	partner, err := s.Redis.HGet(ctx, activeKey, endpoint).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return partner, true, nil
}

func (s *RedisStore) CallDuration(ctx context.Context, endpoint string) (int, bool, error) {
	ts, err := s.Redis.HGet(ctx, startedKey, endpoint).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return minutesSince(time.Unix(ts, 0), s.nowFn()), true, nil
}

func (s *RedisStore) IsAnonymous(ctx context.Context, endpoint string) (bool, error) {
	return s.Redis.SIsMember(ctx, anonKey, endpoint).Result()
}

func (s *RedisStore) ActiveCallCount(ctx context.Context) (int, error) {
	n, err := s.Redis.HLen(ctx, activeKey).Result()
	if err != nil {
		return 0, err
	}
	return int(n / 2), nil
}

func (s *RedisStore) ActiveCalls(ctx context.Context) (map[string]string, error) {
	return s.Redis.HGetAll(ctx, activeKey).Result()
}
