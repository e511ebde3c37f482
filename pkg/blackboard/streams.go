package blackboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Node inboxes
//
// Directed messages travel through one Redis stream per node. Each node reads
// its own stream through a consumer group, acknowledging entries only after
// they have been dispatched. Entries left pending by a crash are redelivered
// on the next start.

const (
	// inboxField holds the encoded envelope in each stream entry.
	inboxField = "envelope"

	// inboxMaxLen bounds each inbox stream (approximate trimming).
	inboxMaxLen = 10000
)

// InboxMessage is one entry read from a node inbox.
type InboxMessage struct {
	ID      string
	Payload []byte
}

// EnsureInbox creates the inbox stream and consumer group for nodeID.
// Calling it for an existing group is a no-op.
func (c *Client) EnsureInbox(ctx context.Context, nodeID, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, InboxKey(c.instanceName, nodeID), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create inbox group for node %s: %w", nodeID, err)
	}
	return nil
}

// AppendInbox appends payload to nodeID's inbox and returns the entry ID.
func (c *Client) AppendInbox(ctx context.Context, nodeID string, payload []byte) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: InboxKey(c.instanceName, nodeID),
		MaxLen: inboxMaxLen,
		Approx: true,
		Values: map[string]interface{}{inboxField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to inbox of node %s: %w", nodeID, err)
	}
	return id, nil
}

// ReadInbox reads up to count entries for consumer.
//
// With pending set, entries already delivered to this consumer but never
// acknowledged are returned without blocking. Otherwise new entries are read,
// waiting up to block for at least one to arrive. An empty result is not an error.
func (c *Client) ReadInbox(ctx context.Context, nodeID, group, consumer string, count int64, block time.Duration, pending bool) ([]InboxMessage, error) {
	start := ">"
	if pending {
		start = "0"
		// go-redis omits BLOCK for negative durations; zero would block forever.
		block = -1
	} else if block <= 0 {
		block = -1
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{InboxKey(c.instanceName, nodeID), start},
		Count:    count,
		Block:    block,
	}).Result()
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox of node %s: %w", nodeID, err)
	}

	var out []InboxMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			raw, _ := msg.Values[inboxField].(string)
			out = append(out, InboxMessage{ID: msg.ID, Payload: []byte(raw)})
		}
	}
	return out, nil
}

// AckInbox acknowledges processed entries so they are not redelivered.
func (c *Client) AckInbox(ctx context.Context, nodeID, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, InboxKey(c.instanceName, nodeID), group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge inbox entries for node %s: %w", nodeID, err)
	}
	return nil
}
