package wms

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "cellar:wms:event:"

// DefaultSeenTTL is how long an applied event id stays in the fast path.
const DefaultSeenTTL = 72 * time.Hour

// SeenCache remembers recently applied WMS event ids in Redis so replays are
// answered without opening a transaction. The ledger's unique event id stays
// the source of truth; a miss here only means the database gets asked.
type SeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSeenCache builds the cache. A nil client disables it.
func NewSeenCache(client *redis.Client, ttl time.Duration) *SeenCache {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenCache{client: client, ttl: ttl}
}

// Seen reports whether id was marked within the TTL.
func (c *SeenCache) Seen(ctx context.Context, id string) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	err := c.client.Get(ctx, seenKeyPrefix+id).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark records id as applied. It reports false when the id was already there.
func (c *SeenCache) Mark(ctx context.Context, id string) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, seenKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
}
