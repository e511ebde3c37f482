package blackboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StateWrite is a single staged change to the shared state hash.
// A write with Delete set removes the field and ignores Value.
type StateWrite struct {
	Field  string
	Value  string
	Delete bool
}

// ReadState returns the value of one shared state field.
// The boolean is false when the field is absent.
func (c *Client) ReadState(ctx context.Context, field string) (string, bool, error) {
	val, err := c.rdb.HGet(ctx, StateKey(c.instanceName), field).Result()
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state field %q: %w", field, err)
	}
	return val, true, nil
}

// ReadAllState returns a snapshot of the entire shared state hash.
func (c *Client) ReadAllState(ctx context.Context) (map[string]string, error) {
	state, err := c.rdb.HGetAll(ctx, StateKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return state, nil
}

// CommitState applies all writes atomically in a single MULTI/EXEC block.
// Callers are expected to hold the locks guarding the affected fields.
func (c *Client) CommitState(ctx context.Context, writes []StateWrite) error {
	if len(writes) == 0 {
		return nil
	}

	key := StateKey(c.instanceName)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.Delete {
				pipe.HDel(ctx, key, w.Field)
			} else {
				pipe.HSet(ctx, key, w.Field, w.Value)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}
