// Package cache provides Redis-backed caches for sync bookkeeping.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"
)

const syncStatusKeyPrefix = "receipts:sync:last:"

// SyncStatusCache keeps the last sync outcome per account so the status
// surface survives process restarts. All methods are no-ops when the cache
// was built without a Redis client.
type SyncStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSyncStatusCache creates a sync status cache. client may be nil.
func NewSyncStatusCache(client *redis.Client, ttl time.Duration) *SyncStatusCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &SyncStatusCache{client: client, ttl: ttl}
}

// Enabled reports whether a Redis client is attached.
func (c *SyncStatusCache) Enabled() bool {
	return c != nil && c.client != nil
}

// SetResult stores the last sync result for an account.
func (c *SyncStatusCache) SetResult(ctx context.Context, accountID int64, result interface{}) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, syncStatusKey(accountID), data, c.ttl).Err()
}

// GetResult loads the last sync result for an account into dest.
// Returns false when no entry exists.
func (c *SyncStatusCache) GetResult(ctx context.Context, accountID int64, dest interface{}) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	data, err := c.client.Get(ctx, syncStatusKey(accountID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the cached result for an account.
func (c *SyncStatusCache) Delete(ctx context.Context, accountID int64) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, syncStatusKey(accountID)).Err()
}

func syncStatusKey(accountID int64) string {
	return fmt.Sprintf("%s%d", syncStatusKeyPrefix, accountID)
}
