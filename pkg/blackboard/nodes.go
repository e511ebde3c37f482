package blackboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// NodeInfo describes a registered node as seen through the registry.
type NodeInfo struct {
	ID       string
	LastSeen time.Time
}

// Heartbeat records that nodeID is alive now. Registering is the first heartbeat.
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	now := time.Now().UnixMilli()
	if err := c.rdb.HSet(ctx, NodesKey(c.instanceName), nodeID, now).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat for node %s: %w", nodeID, err)
	}
	return nil
}

// RegisterNode adds nodeID to the registry.
func (c *Client) RegisterNode(ctx context.Context, nodeID string) error {
	return c.Heartbeat(ctx, nodeID)
}

// DeregisterNode removes nodeID from the registry.
func (c *Client) DeregisterNode(ctx context.Context, nodeID string) error {
	if err := c.rdb.HDel(ctx, NodesKey(c.instanceName), nodeID).Err(); err != nil {
		return fmt.Errorf("failed to deregister node %s: %w", nodeID, err)
	}
	return nil
}

// Nodes returns registered nodes sorted by ID. When staleAfter is positive,
// nodes whose last heartbeat is older than that are excluded.
func (c *Client) Nodes(ctx context.Context, staleAfter time.Duration) ([]NodeInfo, error) {
	raw, err := c.rdb.HGetAll(ctx, NodesKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node registry: %w", err)
	}

	now := time.Now()
	nodes := make([]NodeInfo, 0, len(raw))
	for id, ms := range raw {
		lastMs, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			continue
		}
		seen := time.UnixMilli(lastMs)
		if staleAfter > 0 && now.Sub(seen) > staleAfter {
			continue
		}
		nodes = append(nodes, NodeInfo{ID: id, LastSeen: seen})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// IsNodeReachable reports whether nodeID is registered and, when staleAfter is
// positive, has sent a heartbeat within that window.
func (c *Client) IsNodeReachable(ctx context.Context, nodeID string, staleAfter time.Duration) (bool, error) {
	ms, err := c.rdb.HGet(ctx, NodesKey(c.instanceName), nodeID).Result()
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up node %s: %w", nodeID, err)
	}

	lastMs, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return false, nil
	}
	if staleAfter > 0 && time.Since(time.UnixMilli(lastMs)) > staleAfter {
		return false, nil
	}
	return true, nil
}
