package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulsewire/pkg/types"
)

const redisKeyPrefix = "pulsewire:offline:"

// redisEntry wraps the message with its enqueue time so TTL expiry can be
// applied lazily on drain, matching the in-memory store.
type redisEntry struct {
	Message    *types.Message `json:"message"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// RedisStore is a durable queue store shared across instances. Lists are
// trimmed to capacity on append (RPUSH + LTRIM keeps the most recent
// entries) and the key itself expires after the message TTL as a backstop
// for users who never reconnect.
type RedisStore struct {
	client  *redis.Client
	maxSize int
	keyTTL  time.Duration
}

// NewRedisStore connects to Redis and verifies reachability.
func NewRedisStore(addr, password string, db, maxSize int, keyTTL time.Duration) (*RedisStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	if keyTTL <= 0 {
		keyTTL = DefaultMessageTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, maxSize: maxSize, keyTTL: keyTTL}, nil
}

func (s *RedisStore) Append(ctx context.Context, userID string, msg *types.Message, enqueuedAt time.Time) error {
	payload, err := json.Marshal(redisEntry{Message: msg, EnqueuedAt: enqueuedAt})
	if err != nil {
		return fmt.Errorf("failed to encode queued message: %w", err)
	}

	key := redisKeyPrefix + userID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-s.maxSize), -1)
	pipe.Expire(ctx, key, s.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append queued message: %w", err)
	}
	return nil
}

func (s *RedisStore) DrainAll(ctx context.Context, userID string, cutoff time.Time) ([]*types.Message, error) {
	key := redisKeyPrefix + userID

	pipe := s.client.TxPipeline()
	lrange := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to drain queued messages: %w", err)
	}

	raw := lrange.Val()
	msgs := make([]*types.Message, 0, len(raw))
	for _, item := range raw {
		var entry redisEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue // corrupt entry, skip rather than block the flush
		}
		if entry.EnqueuedAt.Before(cutoff) {
			continue // expired
		}
		msgs = append(msgs, entry.Message)
	}
	return msgs, nil
}

func (s *RedisStore) Len(ctx context.Context, userID string) (int, error) {
	n, err := s.client.LLen(ctx, redisKeyPrefix+userID).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Total(ctx context.Context) (int, error) {
	total := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.LLen(ctx, iter.Val()).Result()
		if err != nil && err != redis.Nil {
			return 0, fmt.Errorf("failed to read queue length: %w", err)
		}
		total += int(n)
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan queue keys: %w", err)
	}
	return total, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
