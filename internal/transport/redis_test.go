package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/collective/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisNode(t *testing.T, mr *miniredis.Miniredis, id string) (*RedisProtocol, *blackboard.Client) {
	t.Helper()

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	p := NewRedisProtocol(client, id, RedisOptions{Block: 20 * time.Millisecond, Heartbeat: time.Second})
	return p, client
}

func TestRedisProtocol_SendAndReceive(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, _ := setupRedisNode(t, mr, "a")
	b, _ := setupRedisNode(t, mr, "b")

	var got inbox
	b.RegisterReceiver(KindInsight, got.receive)

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { a.Close(); b.Close() })

	first, second := testInsight(t, 1), testInsight(t, 2)
	require.NoError(t, a.Send(ctx, "b", &InsightPayload{Insight: first}))
	require.NoError(t, a.Send(ctx, "b", &InsightPayload{Insight: second}))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)

	payloads := got.snapshot()
	assert.Equal(t, first.ID, payloads[0].(*InsightPayload).Insight.ID)
	assert.Equal(t, second.ID, payloads[1].(*InsightPayload).Insight.ID)
}

func TestRedisProtocol_UnknownNode(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, _ := setupRedisNode(t, mr, "a")
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { a.Close() })

	err := a.Send(ctx, "ghost", &InsightPayload{Insight: testInsight(t, 0)})
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestRedisProtocol_BroadcastReportsStalePeersAsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, client := setupRedisNode(t, mr, "a")
	b, _ := setupRedisNode(t, mr, "b")

	var got inbox
	b.RegisterReceiver(KindBifurcation, got.receive)

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { a.Close(); b.Close() })

	// A registry entry with an ancient heartbeat is not a broadcast target.
	mr.HSet(blackboard.NodesKey(client.InstanceName()), "departed", "1000")

	report, err := a.Broadcast(ctx, &Bifurcation{Type: BifurcationPatternEmergence, Origin: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.Delivered)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestRedisProtocol_RedeliversUnacknowledged(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	b, client := setupRedisNode(t, mr, "b")
	require.NoError(t, client.EnsureInbox(ctx, "b", "nodes"))

	data, err := Encode("a", &InsightPayload{Insight: testInsight(t, 9)})
	require.NoError(t, err)
	_, err = client.AppendInbox(ctx, "b", data)
	require.NoError(t, err)

	// Simulate a crash after read: the entry is delivered but never acknowledged.
	msgs, err := client.ReadInbox(ctx, "b", "nodes", "b", 10, 0, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got inbox
	b.RegisterReceiver(KindInsight, got.receive)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { b.Close() })

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		pending, err := client.ReadInbox(ctx, "b", "nodes", "b", 10, 0, true)
		return err == nil && len(pending) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRedisProtocol_CloseDeregisters(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, client := setupRedisNode(t, mr, "a")
	require.NoError(t, a.Start(ctx))

	nodes, err := client.Nodes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	nodes, err = client.Nodes(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
