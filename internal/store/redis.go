package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for quiz results.
const resultKeyPrefix = "quiz:result:"

// RedisResultStore implements ResultStore on Redis. A stored result must
// outlive any poll for it, so keys are persistent by default; a positive
// ttl opts into bounded retention, after which polls report pending again.
type RedisResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultStore creates a Redis-backed result store. A ttl of zero
// means results never expire, matching the SQLite driver.
func NewRedisResultStore(client *redis.Client, ttl time.Duration) *RedisResultStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisResultStore{client: client, ttl: ttl}
}

// PutResult writes the terminal result for a job. SETNX gives first-write-wins.
func (s *RedisResultStore) PutResult(ctx context.Context, jobID, value string) error {
	if err := s.client.SetNX(ctx, s.key(jobID), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("setnx quiz result: %w", err)
	}
	return nil
}

// GetResult retrieves the stored result for a job id.
func (s *RedisResultStore) GetResult(ctx context.Context, jobID string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get quiz result: %w", err)
	}
	return value, true, nil
}

func (s *RedisResultStore) key(jobID string) string {
	return resultKeyPrefix + jobID
}
