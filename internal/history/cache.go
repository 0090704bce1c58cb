package history

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/observability"
	"github.com/EXCurryBar/mybot/internal/redis"
)

const defaultCacheTTL = 30 * time.Minute

// CachedStore serves Read from redis. Snapshots are filed under a per-key
// version that Append bumps after the backing write commits, so a snapshot
// loaded before an append lands under a version no later Read consults.
// Cache errors never fail a call; the backing store stays authoritative.
type CachedStore struct {
	backing Store
	client  *redis.Client
	ttl     time.Duration
}

func NewCachedStore(backing Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{backing: backing, client: client, ttl: ttl}
}

// versionKey never expires; a reset counter could resurrect an old snapshot.
func versionKey(key string) string {
	return "history:ver:" + key
}

func cacheKey(key string, version int64) string {
	return "history:" + key + ":" + strconv.FormatInt(version, 10)
}

func (s *CachedStore) Append(ctx context.Context, key string, role models.Role, content string) error {
	if err := s.backing.Append(ctx, key, role, content); err != nil {
		return err
	}
	version, err := s.client.Incr(ctx, versionKey(key))
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("history cache version bump failed", "err", err)
		return nil
	}
	// the previous snapshot is unreachable now; drop it early
	if err := s.client.Del(ctx, cacheKey(key, version-1)); err != nil {
		observability.LoggerFromContext(ctx).Warn("history cache invalidate failed", "err", err)
	}
	return nil
}

func (s *CachedStore) Read(ctx context.Context, key string) ([]*models.Message, error) {
	log := observability.LoggerFromContext(ctx)
	version, err := s.client.GetInt(ctx, versionKey(key))
	if err != nil {
		log.Warn("history cache version read failed", "err", err)
		return s.backing.Read(ctx, key)
	}

	var msgs []*models.Message
	err = s.client.GetJSON(ctx, cacheKey(key, version), &msgs)
	if err == nil {
		return msgs, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		log.Warn("history cache read failed", "err", err)
	}

	msgs, err = s.backing.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.client.SetJSON(ctx, cacheKey(key, version), msgs, s.ttl); err != nil {
		log.Warn("history cache fill failed", "err", err)
	}
	return msgs, nil
}
