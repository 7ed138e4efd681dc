package family

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/familring/album-service/internal/pkg/logger"
	"github.com/familring/album-service/internal/pkg/upstream"
)

const cacheKeyPrefix = "album:family-of:"

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedDirectory caches the user -> family resolution in Redis.
// Only positive lookups are cached; rosters are always fetched fresh.
// Membership changes must call Forget so the next lookup sees them.
type CachedDirectory struct {
	next Directory
	rdb  kv
	ttl  time.Duration
}

// NewCachedDirectory wraps next. A nil Redis client disables caching.
func NewCachedDirectory(next Directory, rdb *redis.Client, ttl time.Duration) Directory {
	if rdb == nil || ttl <= 0 {
		return next
	}
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl}
}

func (d *CachedDirectory) GetFamilyID(ctx context.Context, userID int64) (int64, error) {
	key := cacheKey(userID)

	cached, err := d.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if familyID, perr := strconv.ParseInt(cached, 10, 64); perr == nil && familyID > 0 {
			return familyID, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.FromContext(ctx).Warn().Err(err).Str("key", key).Msg("Family cache read failed")
	}

	familyID, err := d.next.GetFamilyID(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := d.rdb.Set(ctx, key, strconv.FormatInt(familyID, 10), d.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("key", key).Msg("Family cache write failed")
	}
	return familyID, nil
}

func (d *CachedDirectory) GetFamilyMembers(ctx context.Context, userID int64) ([]Member, error) {
	return d.next.GetFamilyMembers(ctx, userID)
}

// Forget drops the cached family of userID.
func (d *CachedDirectory) Forget(ctx context.Context, userID int64) error {
	if err := d.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: forget family of user %d: %w", upstream.ErrUpstream, userID, err)
	}
	return nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("%s%d", cacheKeyPrefix, userID)
}
