package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "cellar:rbac:perms:"

// DefaultCacheTTL bounds how stale a revoked permission can be.
const DefaultCacheTTL = time.Minute

// Cache memoises effective permissions in Redis. Redis failures fall back to
// the wrapped source.
type Cache struct {
	source PermissionSource
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps source. A nil client turns the cache into a pass-through.
func NewCache(source PermissionSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, client: client, ttl: ttl, logger: logger}
}

// EffectivePermissions returns the cached list or loads and stores it.
func (c *Cache) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if c.client == nil {
		return c.source.EffectivePermissions(ctx, userID)
	}
	key := cacheKeyPrefix + strconv.FormatInt(userID, 10)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var perms []string
		if jerr := json.Unmarshal(raw, &perms); jerr == nil {
			return perms, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("rbac cache read", slog.Int64("user_id", userID), slog.Any("error", err))
	}

	perms, err := c.source.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []string{}
	}
	payload, _ := json.Marshal(perms)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("rbac cache write", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return perms, nil
}

// HasPermission reports whether userID holds permission.
func (c *Cache) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	granted, err := c.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAnyPermission(granted, normalizePermissions([]string{permission})), nil
}

// Invalidate drops the cached list for userID.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKeyPrefix+strconv.FormatInt(userID, 10)).Err()
}
