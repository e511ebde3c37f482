package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: collective instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client for the instance.
func NewClientFromURL(redisURL, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewClient(opts, instanceName)
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the namespace this client operates in.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// RedisClient exposes the underlying connection for callers that need raw
// commands (integration tests, diagnostics).
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// CreateInsight writes an insight to Redis and publishes an event.
// The hash and timeline entry are written atomically in a MULTI/EXEC block.
// Publishes full insight JSON to collective:{instance}:insight_events after the write.
//
// Insights are immutable, so writing the same insight twice is safe and idempotent.
func (c *Client) CreateInsight(ctx context.Context, i *Insight) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("invalid insight: %w", err)
	}

	hash, err := InsightToHash(i)
	if err != nil {
		return fmt.Errorf("failed to serialize insight: %w", err)
	}

	key := InsightKey(c.instanceName, i.ID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		pipe.ZAdd(ctx, TimelineKey(c.instanceName), redis.Z{
			Score:  TimelineScore(i.CreatedAtMs),
			Member: i.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write insight to Redis: %w", err)
	}

	insightJSON, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("failed to marshal insight for event: %w", err)
	}

	channel := InsightEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, insightJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish insight event: %w", err)
	}

	return nil
}

// GetInsight retrieves an insight by ID.
// Returns (nil, redis.Nil) if the insight doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetInsight(ctx context.Context, insightID string) (*Insight, error) {
	key := InsightKey(c.instanceName, insightID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read insight from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	insight, err := HashToInsight(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize insight: %w", err)
	}

	return insight, nil
}

// InsightExists checks if an insight exists without fetching it.
func (c *Client) InsightExists(ctx context.Context, insightID string) (bool, error) {
	key := InsightKey(c.instanceName, insightID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check insight existence: %w", err)
	}
	return exists > 0, nil
}

// ListInsights returns insights created within [since, until], oldest first.
// Zero times leave the corresponding side of the range open.
func (c *Client) ListInsights(ctx context.Context, since, until time.Time) ([]*Insight, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, TimelineKey(c.instanceName), &redis.ZRangeBy{
		Min: ScoreBound(since, "-inf"),
		Max: ScoreBound(until, "+inf"),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}
	return c.loadInsights(ctx, ids)
}

// RecentInsights returns up to n of the newest insights, newest first.
// When filter is non-empty only insights of that type are returned; the
// timeline is walked in pages until n matches are found or it is exhausted.
func (c *Client) RecentInsights(ctx context.Context, n int, filter InsightType) ([]*Insight, error) {
	if n <= 0 {
		return []*Insight{}, nil
	}

	const page = 64
	result := make([]*Insight, 0, n)
	key := TimelineKey(c.instanceName)

	for start := int64(0); len(result) < n; start += page {
		ids, err := c.rdb.ZRevRange(ctx, key, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read timeline: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		batch, err := c.loadInsights(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, insight := range batch {
			if filter != "" && insight.Type != filter {
				continue
			}
			result = append(result, insight)
			if len(result) == n {
				break
			}
		}
	}

	return result, nil
}

// ScanInsights returns every stored insight whose ID starts with prefix.
// Used by the CLI to resolve short IDs. Results are sorted by ID.
func (c *Client) ScanInsights(ctx context.Context, prefix string) ([]*Insight, error) {
	pattern := InsightKeyPrefix(c.instanceName) + prefix + "*"

	var ids []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), InsightKeyPrefix(c.instanceName)))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan insights: %w", err)
	}

	sort.Strings(ids)
	return c.loadInsights(ctx, ids)
}

// loadInsights fetches insights in the given order with one pipelined round trip.
// IDs whose hash has disappeared are skipped.
func (c *Client) loadInsights(ctx context.Context, ids []string) ([]*Insight, error) {
	if len(ids) == 0 {
		return []*Insight{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for idx, id := range ids {
			cmds[idx] = pipe.HGetAll(ctx, InsightKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read insights from Redis: %w", err)
	}

	insights := make([]*Insight, 0, len(ids))
	for idx, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		insight, err := HashToInsight(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize insight %s: %w", ids[idx], err)
		}
		insights = append(insights, insight)
	}

	return insights, nil
}

// Subscription represents an active Pub/Sub subscription to insight events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Insight
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of insight events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Insight {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - malformed messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeInsightEvents subscribes to insight creation events for this instance.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once: a slow subscriber may miss events.
func (c *Client) SubscribeInsightEvents(ctx context.Context) (*Subscription, error) {
	channel := InsightEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no event published right
	// after this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to insight events: %w", err)
	}

	eventsChan := make(chan *Insight, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var insight Insight
				if err := json.Unmarshal([]byte(msg.Payload), &insight); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal insight event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &insight:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
