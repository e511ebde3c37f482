//go:build integration

package blackboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/collective/internal/testutil"
	"github.com/dyluth/collective/pkg/blackboard"
)

func TestRedis_LockLeaseExpires(t *testing.T) {
	client := testutil.NewClient(t, testutil.StartRedis(t), "itest")
	ctx := context.Background()

	ok, err := client.TryLock(ctx, "topic:latency", "a", 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.TryLock(ctx, "topic:latency", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be taken")

	require.Eventually(t, func() bool {
		ok, err := client.TryLock(ctx, "topic:latency", "b", time.Second)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)

	released, err := client.Unlock(ctx, "topic:latency", "a")
	require.NoError(t, err)
	assert.False(t, released, "expired holder must not release the new lease")

	owner, err := client.LockOwner(ctx, "topic:latency")
	require.NoError(t, err)
	assert.Equal(t, "b", owner)
}

func TestRedis_CommitStateIsAtomic(t *testing.T) {
	client := testutil.NewClient(t, testutil.StartRedis(t), "itest")
	ctx := context.Background()

	require.NoError(t, client.CommitState(ctx, []blackboard.StateWrite{
		{Field: "goal", Value: "reduce latency"},
		{Field: "context:region", Value: `"eu-west"`},
	}))
	require.NoError(t, client.CommitState(ctx, []blackboard.StateWrite{
		{Field: "context:region", Delete: true},
		{Field: "goal", Value: "reduce cost"},
	}))

	state, err := client.ReadAllState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"goal": "reduce cost"}, state)
}

func TestRedis_InboxRedeliversUnacknowledged(t *testing.T) {
	client := testutil.NewClient(t, testutil.StartRedis(t), "itest")
	ctx := context.Background()
	nodeID := uuid.New().String()

	require.NoError(t, client.EnsureInbox(ctx, nodeID, "node"))
	require.NoError(t, client.EnsureInbox(ctx, nodeID, "node"))

	_, err := client.AppendInbox(ctx, nodeID, []byte(`{"n":1}`))
	require.NoError(t, err)

	msgs, err := client.ReadInbox(ctx, nodeID, "node", "c1", 10, 100*time.Millisecond, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	pending, err := client.ReadInbox(ctx, nodeID, "node", "c1", 10, 0, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msgs[0].ID, pending[0].ID)

	require.NoError(t, client.AckInbox(ctx, nodeID, "node", msgs[0].ID))
	pending, err = client.ReadInbox(ctx, nodeID, "node", "c1", 10, 0, true)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedis_SubscriptionDeliversCreatedInsights(t *testing.T) {
	client := testutil.NewClient(t, testutil.StartRedis(t), "itest")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := client.SubscribeInsightEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	insight, err := blackboard.NewInsight(uuid.New().String(), blackboard.InsightTypeHypothesis,
		"cache misses drive latency", blackboard.WithTopic("latency"))
	require.NoError(t, err)
	require.NoError(t, client.CreateInsight(ctx, insight))

	select {
	case got := <-sub.Events():
		assert.Equal(t, insight.ID, got.ID)
	case err := <-sub.Errors():
		t.Fatalf("subscription error: %v", err)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
