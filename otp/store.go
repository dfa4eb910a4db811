// Package otp manages one-time verification codes for phone login.
package otp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeMismatch is returned when a submitted code does not match the stored
// one, or no code is pending for the phone.
var ErrCodeMismatch = errors.New("verification code mismatch or expired")

// Store keeps pending verification codes. Codes expire and are single-use.
type Store interface {
	Save(ctx context.Context, phone, code string) error
	Consume(ctx context.Context, phone, code string) error
}

// RedisStore keeps codes in Redis with a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed code store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Save stores the code for a phone, replacing any earlier pending code.
func (s *RedisStore) Save(ctx context.Context, phone, code string) error {
	if err := s.rdb.Set(ctx, codeKey(phone), code, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

// Consume checks the submitted code and deletes it on success.
func (s *RedisStore) Consume(ctx context.Context, phone, code string) error {
	stored, err := s.rdb.Get(ctx, codeKey(phone)).Result()
	if err == redis.Nil {
		return ErrCodeMismatch
	}
	if err != nil {
		return fmt.Errorf("failed to read verification code: %w", err)
	}
	if stored != code {
		return ErrCodeMismatch
	}
	if err := s.rdb.Del(ctx, codeKey(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	return nil
}

func codeKey(phone string) string {
	return "otp:" + phone
}

// GenerateCode returns a 6-digit verification code.
func GenerateCode() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}
