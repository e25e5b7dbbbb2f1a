// Package store keeps outstanding one-time code hashes keyed by email.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"certdesk/pkg/platform/sentinel"
)

const keyPrefix = "otp:"

// RedisStore relies on key expiry for the TTL and SET NX for the
// one-outstanding-code rule.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func key(email string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(email))
}

// PutIfAbsent stores hash for ttl unless a code is already outstanding, in
// which case it returns sentinel.ErrAlreadyUsed.
func (s *RedisStore) PutIfAbsent(ctx context.Context, email, hash string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, key(email), hash, ttl).Result()
	if err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, email string) (string, error) {
	hash, err := s.client.Get(ctx, key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load otp: %w", err)
	}
	return hash, nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, key(email)).Err(); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}
