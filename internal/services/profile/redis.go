package profile

import (
	"context"
	"fmt"

	"userphone/models"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAlias  = "alias"
	fieldAvatar = "avatar_url"
)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func profileKey(userID string) string {
	return fmt.Sprintf("up:profile:%s", userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (models.Profile, error) {
	fields, err := s.redis.HGetAll(ctx, profileKey(userID)).Result()
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return models.Profile{Alias: fields[fieldAlias], AvatarURL: fields[fieldAvatar]}, nil
}

func (s *RedisStore) Update(ctx context.Context, userID string, upd models.ProfileUpdate) error {
	values := make([]any, 0, 4)
	if upd.Alias != nil {
		values = append(values, fieldAlias, *upd.Alias)
	}
	if upd.AvatarURL != nil {
		values = append(values, fieldAvatar, *upd.AvatarURL)
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.redis.HSet(ctx, profileKey(userID), values...).Err(); err != nil {
		return fmt.Errorf("set profile %s: %w", userID, err)
	}
	return nil
}
