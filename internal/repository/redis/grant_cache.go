package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"directory-service/internal/client"
	"directory-service/internal/util"
)

const grantPrefix = "update_grant:"

// Lua script: delete the grant only if the stored token matches, so a
// grant can be consumed exactly once even under concurrent submissions.
const consumeGrantScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// GrantCache stores short-lived single-use update grants issued after a
// successful passcode verification.
type GrantCache struct {
	client *client.RedisClient
}

func NewGrantCache(client *client.RedisClient) *GrantCache {
	return &GrantCache{client: client}
}

// Issue creates a fresh grant for the student, replacing any grant still
// outstanding from an earlier verification.
func (c *GrantCache) Issue(ctx context.Context, studentID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	key := grantPrefix + studentID

	if err := c.client.Set(ctx, key, token, ttl); err != nil {
		util.Error("Failed to issue update grant",
			zap.String("student_id", studentID),
			zap.Error(err))
		return "", fmt.Errorf("failed to issue update grant: %w", err)
	}

	util.Debug("Update grant issued",
		zap.String("student_id", studentID),
		zap.Duration("ttl", ttl))

	return token, nil
}

// Consume atomically checks and deletes the grant. It returns false when
// the token does not match, belongs to another student, has expired or
// was already consumed.
func (c *GrantCache) Consume(ctx context.Context, studentID, token string) (bool, error) {
	key := grantPrefix + studentID

	result, err := c.client.Eval(ctx, consumeGrantScript, []string{key}, token)
	if err != nil {
		util.Error("Failed to consume update grant",
			zap.String("student_id", studentID),
			zap.Error(err))
		return false, fmt.Errorf("failed to consume update grant: %w", err)
	}

	deleted, ok := result.(int64)
	return ok && deleted == 1, nil
}
