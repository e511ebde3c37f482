package consistency

import (
	"context"
	"time"

	"github.com/dyluth/collective/pkg/blackboard"
)

// RedisLocker takes leases with SET NX PX and releases them with a
// compare-and-delete script, so nodes in separate processes exclude each other.
type RedisLocker struct {
	client *blackboard.Client
}

func NewRedisLocker(client *blackboard.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	return l.client.TryLock(ctx, key, token, lease)
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) (bool, error) {
	return l.client.Unlock(ctx, key, token)
}

func (l *RedisLocker) Owner(ctx context.Context, key string) (string, error) {
	return l.client.LockOwner(ctx, key)
}

// RedisStore keeps committed state in the instance's shared state hash.
type RedisStore struct {
	client *blackboard.Client
}

func NewRedisStore(client *blackboard.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Read(ctx context.Context, key string) (string, bool, error) {
	return s.client.ReadState(ctx, key)
}

func (s *RedisStore) Commit(ctx context.Context, writes []Write) error {
	ws := make([]blackboard.StateWrite, len(writes))
	for i, w := range writes {
		ws[i] = blackboard.StateWrite{Field: w.Key, Value: w.Value, Delete: w.Delete}
	}
	return s.client.CommitState(ctx, ws)
}

// NewRedisManager creates a manager shared by every node of the instance.
func NewRedisManager(client *blackboard.Client, opts Options) *LockingManager {
	return NewLockingManager(NewRedisLocker(client), NewRedisStore(client), opts)
}
