package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisClaimStore grants exclusive short-lived session claims via SETNX so
// reassignment scans on separate router instances cannot both pick up the
// same waiting session.
type RedisClaimStore struct {
	client *redis.Client
}

func NewRedisClaimStore(client *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{client: client}
}

func claimKey(sessionID string) string {
	return "routing:claim:" + sessionID
}

func (s *RedisClaimStore) Claim(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, claimKey(sessionID), "1", ttl).Result()
}

func (s *RedisClaimStore) Release(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, claimKey(sessionID)).Err()
}
