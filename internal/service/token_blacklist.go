package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

// RedisTokenBlacklist keeps revoked access token ids in Redis until they expire
type RedisTokenBlacklist struct {
	redis *database.Redis
}

// NewRedisTokenBlacklist creates a new token blacklist
func NewRedisTokenBlacklist(redis *database.Redis) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{redis: redis}
}

var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

func blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:token:%s", jti)
}

// Revoke adds a token id to the blacklist for ttl
func (s *RedisTokenBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	err := s.redis.Client.Set(ctx, blacklistKey(jti), "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// IsRevoked checks if a token id is in the blacklist
func (s *RedisTokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.redis.Client.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}
