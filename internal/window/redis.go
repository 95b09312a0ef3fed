package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps windows in Redis sorted sets. Each Record is sent as a
// MULTI/EXEC transaction so concurrent requests for one key never interleave.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis instance described by redisURL
// (redis://[:password@]host:port/db) and verifies it with PING.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Record(ctx context.Context, key string, now float64, window, ttl time.Duration) (Snapshot, error) {
	start := now - window.Seconds()
	startScore := FormatScore(start)
	nowScore := FormatScore(now)

	var (
		count  *redis.IntCmd
		recent *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+startScore)
		pipe.ZAdd(ctx, key, &redis.Z{Score: now, Member: nowScore})
		count = pipe.ZCount(ctx, key, startScore, nowScore)
		recent = pipe.ZRangeWithScores(ctx, key, -2, -1)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("record window %q: %w", key, err)
	}

	snap := Snapshot{Count: count.Val()}
	for _, z := range recent.Val() {
		snap.Recent = append(snap.Recent, z.Score)
	}
	return snap, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
