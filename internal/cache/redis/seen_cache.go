package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

const seenKeyPrefix = "sniper:seen:"

// SeenCache records discovered assets across restarts so a redelivered
// discovery notification never triggers a second entry.
type SeenCache struct {
	client *Client
	ttl    time.Duration
}

var _ domain.SeenCache = (*SeenCache)(nil)

// NewSeenCache creates a seen-cache with the given retention. A zero ttl keeps
// entries forever.
func NewSeenCache(client *Client, ttl time.Duration) *SeenCache {
	return &SeenCache{client: client, ttl: ttl}
}

// MarkSeen atomically records the asset. It returns true when the asset was
// not previously marked, false when it was.
func (c *SeenCache) MarkSeen(ctx context.Context, assetKey string) (bool, error) {
	first, err := c.client.rdb.SetNX(ctx, seenKeyPrefix+assetKey, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", assetKey, err)
	}
	return first, nil
}
