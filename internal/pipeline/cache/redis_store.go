package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fin-analytics/internal/models"
)

const scanBatch = 200

// RedisStore keeps JSON encoded entries under a key prefix so a version
// change can purge them without touching unrelated keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "answer-cache:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(fingerprint string) string {
	return s.prefix + fingerprint
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt value is dropped rather than served.
		_ = s.client.Del(ctx, s.key(fingerprint)).Err()
		return nil, false, fmt.Errorf("decode entry %s: %w", fingerprint, err)
	}
	return &entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(entry.Fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, s.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Purge(ctx context.Context) (int, error) {
	var (
		cursor uint64
		purged int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return purged, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return purged, fmt.Errorf("redis del: %w", err)
			}
			purged += int(n)
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

// Close leaves the shared client open; its owner closes it.
func (s *RedisStore) Close() error {
	return nil
}
