package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sentinel:surface:"

// RedisStore keeps each surface as one Redis key holding the JSON
// document. Suited to deployments that already run Redis and accept
// its durability model for governance history.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis instance at url
// (e.g. "redis://localhost:6379/0").
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Load reads the full document for a surface. Missing keys are empty.
func (s *RedisStore) Load(ctx context.Context, surface string) ([]json.RawMessage, error) {
	doc, err := s.client.Get(ctx, redisKeyPrefix+surface).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load surface %s: %w", surface, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(doc, &records); err != nil {
		return nil, fmt.Errorf("corrupt surface %s: %w", surface, err)
	}
	return records, nil
}

// AppendOrReplace writes the full document for a surface.
func (s *RedisStore) AppendOrReplace(ctx context.Context, surface string, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	doc, err := json.Marshal(records)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, redisKeyPrefix+surface, doc, 0).Err(); err != nil {
		return fmt.Errorf("failed to write surface %s: %w", surface, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
