package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "claimcomb:verdict:"
	redisIndexKey  = "claimcomb:verdicts"
)

var _ Backend = (*RedisBackend)(nil)

type redisRecord struct {
	Payload      json.RawMessage `json:"payload"`
	EvidenceHash string          `json:"evidence_hash"`
	CreatedAt    int64           `json:"created_at"`
}

// RedisBackend stores each record under its own key with a native expiry.
// A sorted set scored by creation time indexes the records for capacity
// purges.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(ctx context.Context, addr string, ttl time.Duration) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)

	return &RedisBackend{client: client, ttl: ttl}, nil
}

func verdictKey(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

func (b *RedisBackend) Get(ctx context.Context, fingerprint string) (Record, bool, error) {
	data, err := b.client.Get(ctx, verdictKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get key %s: %w", verdictKey(fingerprint), err)
	}

	var stored redisRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return Record{}, false, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
	}

	return Record{
		Fingerprint:  fingerprint,
		Payload:      stored.Payload,
		EvidenceHash: stored.EvidenceHash,
		CreatedAt:    time.UnixMilli(stored.CreatedAt).UTC(),
	}, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, record Record) error {
	data, err := json.Marshal(redisRecord{
		Payload:      record.Payload,
		EvidenceHash: record.EvidenceHash,
		CreatedAt:    record.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, verdictKey(record.Fingerprint), data, b.ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(record.CreatedAt.UnixMilli()),
			Member: record.Fingerprint,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", verdictKey(record.Fingerprint), err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, fingerprint string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, verdictKey(fingerprint))
		pipe.ZRem(ctx, redisIndexKey, fingerprint)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", verdictKey(fingerprint), err)
	}
	return nil
}

func (b *RedisBackend) Purge(ctx context.Context, cutoff time.Time, keep int) (int, error) {
	expired, err := b.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired verdicts: %w", err)
	}

	if err := b.remove(ctx, expired); err != nil {
		return 0, err
	}
	removed := len(expired)

	if keep <= 0 {
		return removed, nil
	}

	count, err := b.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return removed, fmt.Errorf("failed to count verdicts: %w", err)
	}
	if count <= int64(keep) {
		return removed, nil
	}

	oldest, err := b.client.ZRange(ctx, redisIndexKey, 0, count-int64(keep)-1).Result()
	if err != nil {
		return removed, fmt.Errorf("failed to list oldest verdicts: %w", err)
	}
	if err := b.remove(ctx, oldest); err != nil {
		return removed, err
	}

	return removed + len(oldest), nil
}

func (b *RedisBackend) remove(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fingerprints))
	members := make([]interface{}, 0, len(fingerprints))
	for _, fingerprint := range fingerprints {
		keys = append(keys, verdictKey(fingerprint))
		members = append(members, fingerprint)
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, redisIndexKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove verdicts: %w", err)
	}
	return nil
}

func (b *RedisBackend) Count(ctx context.Context) (int, error) {
	count, err := b.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count verdicts: %w", err)
	}
	return int(count), nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// flush removes every key written by this backend.
func (b *RedisBackend) flush(ctx context.Context) error {
	fingerprints, err := b.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list verdicts: %w", err)
	}
	if err := b.remove(ctx, fingerprints); err != nil {
		return err
	}
	return b.client.Del(ctx, redisIndexKey).Err()
}
