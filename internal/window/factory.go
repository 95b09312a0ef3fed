package window

import (
	"context"
	"strings"
)

// NewStore creates a redis-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(ctx, redisURL)
}
