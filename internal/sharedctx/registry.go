// Package sharedctx holds the collective's shared context: the current goal
// and typed context items. Writes go through consistency transactions; reads
// are unlocked and served through a short-lived cache, so readers may observe
// a value up to one TTL old.
package sharedctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/collective/internal/cache"
	"github.com/dyluth/collective/internal/consistency"
)

// GoalKey is the shared-state key of the current goal.
const GoalKey = "goal"

// ItemKey returns the shared-state key of a context item.
func ItemKey(key string) string {
	return "item:" + key
}

type entry struct {
	value string
	ok    bool
}

// Registry reads and writes shared context.
type Registry struct {
	m     consistency.Manager
	cache *cache.Cache[string, entry]
	ttl   time.Duration
}

// Options configures a Registry.
type Options struct {
	CacheTTL      time.Duration // default 2s; negative disables caching
	CacheMaxItems int64
}

// New creates a registry over m.
func New(m consistency.Manager, opts Options) (*Registry, error) {
	r := &Registry{m: m, ttl: opts.CacheTTL}
	if r.ttl == 0 {
		r.ttl = 2 * time.Second
	}
	if r.ttl > 0 {
		c, err := cache.New[string, entry](cache.Options{MaxItems: opts.CacheMaxItems, DefaultTTL: r.ttl})
		if err != nil {
			return nil, fmt.Errorf("failed to create context cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Close releases the cache.
func (r *Registry) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}

// CurrentGoal returns the current goal.
func (r *Registry) CurrentGoal(ctx context.Context) (string, bool, error) {
	return r.read(ctx, GoalKey)
}

// SetCurrentGoal replaces the current goal.
func (r *Registry) SetCurrentGoal(ctx context.Context, goal string) error {
	return r.write(ctx, GoalKey, func(ctx context.Context, tx *consistency.Tx) error {
		return tx.Set(GoalKey, goal)
	})
}

// UpdateCurrentGoal derives the next goal from the current one inside a
// transaction, so concurrent updates apply one after another.
func (r *Registry) UpdateCurrentGoal(ctx context.Context, fn func(current string, ok bool) (string, error)) (string, error) {
	var next string
	err := r.write(ctx, GoalKey, func(ctx context.Context, tx *consistency.Tx) error {
		cur, ok, err := tx.Get(ctx, GoalKey)
		if err != nil {
			return err
		}
		next, err = fn(cur, ok)
		if err != nil {
			return err
		}
		return tx.Set(GoalKey, next)
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// SetContextItem stores value as JSON under key.
func (r *Registry) SetContextItem(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal context item %q: %w", key, err)
	}
	k := ItemKey(key)
	return r.write(ctx, k, func(ctx context.Context, tx *consistency.Tx) error {
		return tx.Set(k, string(data))
	})
}

// RemoveContextItem deletes key. Returns whether it existed.
func (r *Registry) RemoveContextItem(ctx context.Context, key string) (bool, error) {
	k := ItemKey(key)
	var existed bool
	err := r.write(ctx, k, func(ctx context.Context, tx *consistency.Tx) error {
		_, ok, err := tx.Get(ctx, k)
		if err != nil {
			return err
		}
		existed = ok
		if !ok {
			return nil
		}
		return tx.Delete(k)
	})
	return existed, err
}

// GetContextItem decodes the item stored under key into T.
func GetContextItem[T any](ctx context.Context, r *Registry, key string) (T, bool, error) {
	var v T
	raw, ok, err := r.read(ctx, ItemKey(key))
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("failed to decode context item %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Registry) read(ctx context.Context, key string) (string, bool, error) {
	load := func(ctx context.Context) (entry, error) {
		v, ok, err := r.m.Read(ctx, key)
		if err != nil {
			return entry{}, fmt.Errorf("failed to read %q: %w", key, err)
		}
		return entry{value: v, ok: ok}, nil
	}

	if r.cache == nil {
		e, err := load(ctx)
		return e.value, e.ok, err
	}
	e, err := r.cache.GetOrLoad(ctx, key, r.ttl, load)
	return e.value, e.ok, err
}

func (r *Registry) write(ctx context.Context, key string, op consistency.TxFunc) error {
	err := r.m.ExecuteTransactional(ctx, []string{key}, op)
	if r.cache != nil {
		r.cache.Invalidate(key)
	}
	return err
}
