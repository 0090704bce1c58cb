package summarycache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/EXCurryBar/mybot/internal/observability"
	"github.com/EXCurryBar/mybot/internal/redis"
)

// Redis shares summaries across bot instances; entries expire after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return "summary:" + hex.EncodeToString(sum[:])
}

func (r *Redis) Get(ctx context.Context, url string) (string, bool) {
	v, err := r.client.Get(ctx, redisKey(url))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			observability.LoggerFromContext(ctx).Warn("summary cache get failed", "url", url, "err", err)
		}
		return "", false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, url, summary string) {
	if err := r.client.Set(ctx, redisKey(url), summary, r.ttl); err != nil {
		observability.LoggerFromContext(ctx).Warn("summary cache set failed", "url", url, "err", err)
	}
}
