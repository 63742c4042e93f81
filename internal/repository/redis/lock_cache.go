package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"directory-service/internal/client"
	"directory-service/internal/util"
)

const recordLockPrefix = "record_lock:"

// LockCache serializes passcode issuance per record. The lock is advisory
// and short-lived; the conditional write in the repository remains the
// authoritative guard if a holder dies before releasing.
type LockCache struct {
	client *client.RedisClient
}

func NewLockCache(client *client.RedisClient) *LockCache {
	return &LockCache{client: client}
}

func (c *LockCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := c.client.SetNX(ctx, recordLockPrefix+key, "1", ttl)
	if err != nil {
		util.Error("Failed to acquire record lock",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("failed to acquire record lock: %w", err)
	}
	return acquired, nil
}

func (c *LockCache) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, recordLockPrefix+key); err != nil {
		util.Error("Failed to release record lock",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to release record lock: %w", err)
	}
	return nil
}
