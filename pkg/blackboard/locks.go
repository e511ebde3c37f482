package blackboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock key only when it still holds the caller's token,
// so an expired lease can never release a lock another holder has since taken.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock attempts to take the lock for resource using SET NX PX.
// token identifies the holder and must be unique per acquisition.
// Returns false without error when another holder owns the lock.
func (c *Client) TryLock(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, LockKey(c.instanceName, resource), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", resource, err)
	}
	return ok, nil
}

// Unlock releases the lock for resource if token still owns it.
// Returns false when the lease had already expired or changed hands.
func (c *Client) Unlock(ctx context.Context, resource, token string) (bool, error) {
	n, err := unlockScript.Run(ctx, c.rdb, []string{LockKey(c.instanceName, resource)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %q: %w", resource, err)
	}
	return n == 1, nil
}

// LockOwner returns the token currently holding resource, or "" when unlocked.
func (c *Client) LockOwner(ctx context.Context, resource string) (string, error) {
	token, err := c.rdb.Get(ctx, LockKey(c.instanceName, resource)).Result()
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock %q: %w", resource, err)
	}
	return token, nil
}
