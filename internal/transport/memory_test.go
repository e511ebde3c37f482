package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/collective/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu       sync.Mutex
	from     []string
	payloads []Payload
}

func (i *inbox) receive(_ context.Context, from string, p Payload) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.from = append(i.from, from)
	i.payloads = append(i.payloads, p)
	return nil
}

func (i *inbox) snapshot() []Payload {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Payload(nil), i.payloads...)
}

func joinT(t *testing.T, h *Hub, id string) *MemoryProtocol {
	t.Helper()
	p, err := h.Join(id)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func drain(t *testing.T, ps ...*MemoryProtocol) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, p := range ps {
		require.NoError(t, p.Drain(ctx))
	}
}

func testInsight(t *testing.T, n int) *blackboard.Insight {
	t.Helper()
	insight, err := blackboard.NewInsight(uuid.New().String(), blackboard.InsightTypeRawObservation, map[string]int{"n": n})
	require.NoError(t, err)
	return insight
}

func TestHub_SendPreservesOrder(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")
	b := joinT(t, hub, "b")

	var got inbox
	b.RegisterReceiver(KindInsight, got.receive)

	var sent []string
	for i := 0; i < 50; i++ {
		insight := testInsight(t, i)
		sent = append(sent, insight.ID)
		require.NoError(t, a.Send(context.Background(), "b", &InsightPayload{Insight: insight}))
	}
	drain(t, b)

	payloads := got.snapshot()
	require.Len(t, payloads, 50)
	for i, p := range payloads {
		assert.Equal(t, sent[i], p.(*InsightPayload).Insight.ID)
	}
	assert.Equal(t, "a", got.from[0])
}

func TestHub_SendToUnknownNode(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")

	err := a.Send(context.Background(), "ghost", &InsightPayload{Insight: testInsight(t, 0)})

	var unknown *UnknownNodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.NodeID)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestHub_JoinTwice(t *testing.T) {
	hub := NewHub()
	joinT(t, hub, "a")
	_, err := hub.Join("a")
	assert.Error(t, err)
}

func TestHub_ClosedNodeBecomesUnknown(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")
	b, err := hub.Join("b")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err = a.Send(context.Background(), "b", &InsightPayload{Insight: testInsight(t, 0)})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Equal(t, []string{"a"}, hub.Nodes())
}

func TestHub_SendAfterPeerClosed(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")
	b, err := hub.Join("b")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// A sender that looked b up before it left.
	hub.mu.Lock()
	hub.nodes["b"] = b
	hub.mu.Unlock()

	err = a.Send(context.Background(), "b", &InsightPayload{Insight: testInsight(t, 0)})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Zero(t, b.pending.Load())
	assert.Empty(t, b.mailbox)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.Drain(ctx))
}

func TestHub_BroadcastSkipsSelf(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")
	b := joinT(t, hub, "b")
	c := joinT(t, hub, "c")

	var gotA, gotB, gotC inbox
	a.RegisterReceiver(KindAll, gotA.receive)
	b.RegisterReceiver(KindAll, gotB.receive)
	c.RegisterReceiver(KindAll, gotC.receive)

	report, err := a.Broadcast(context.Background(), &Bifurcation{Type: BifurcationPatternEmergence, Origin: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, report.Delivered)
	assert.Empty(t, report.Failed)

	drain(t, a, b, c)
	assert.Empty(t, gotA.snapshot())
	assert.Len(t, gotB.snapshot(), 1)
	assert.Len(t, gotC.snapshot(), 1)
}

func TestReceiverKindDispatch(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")
	b := joinT(t, hub, "b")

	var insights, bifurcations, all inbox
	b.RegisterReceiver(KindInsight, insights.receive)
	b.RegisterReceiver(KindBifurcation, bifurcations.receive)
	b.RegisterReceiver(KindAll, all.receive)
	b.RegisterReceiver(KindInsight, func(context.Context, string, Payload) error {
		return errors.New("rejected")
	})

	require.NoError(t, a.Send(context.Background(), "b", &InsightPayload{Insight: testInsight(t, 1)}))
	require.NoError(t, a.Send(context.Background(), "b", &Bifurcation{Type: BifurcationContradiction, Origin: "a"}))
	drain(t, b)

	assert.Len(t, insights.snapshot(), 1)
	assert.Len(t, bifurcations.snapshot(), 1)
	assert.Len(t, all.snapshot(), 2)
}

func TestKindCovers(t *testing.T) {
	assert.True(t, KindAll.Covers(KindInsight))
	assert.True(t, Kind("insight").Covers(Kind("insight.shared")))
	assert.False(t, Kind("insight.shared").Covers(Kind("insight")))
	assert.False(t, KindInsight.Covers(KindBifurcation))
}

func TestEncodeDecode(t *testing.T) {
	insight := testInsight(t, 7)

	data, err := Encode("a", &InsightPayload{Insight: insight, Task: "sync"})
	require.NoError(t, err)

	env, payload, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "a", env.From)
	assert.Equal(t, KindInsight, env.Kind)
	assert.NotZero(t, env.SentAtMs)

	ip, ok := payload.(*InsightPayload)
	require.True(t, ok)
	assert.Equal(t, insight.ID, ip.Insight.ID)
	assert.Equal(t, "sync", ip.Task)

	_, _, err = Decode([]byte(`{"kind":"mystery","from":"a","body":{}}`))
	assert.Error(t, err)

	_, _, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPartialBroadcastError(t *testing.T) {
	boom := errors.New("connection refused")
	report, err := fanOut(context.Background(), []string{"x", "y", "z"}, func(_ context.Context, peer string) error {
		if peer == "y" {
			return boom
		}
		return nil
	})

	var partial *PartialBroadcastError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"x", "z"}, report.Delivered)
	assert.Equal(t, []string{"y"}, report.FailedNodes())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "1 of 3")
}

func TestBifurcationBroadcaster(t *testing.T) {
	hub := NewHub()
	a := joinT(t, hub, "a")
	b := joinT(t, hub, "b")

	var got inbox
	b.RegisterReceiver(KindBifurcation, got.receive)

	md := map[string]string{"topic": "temperature"}
	report, err := NewBifurcationBroadcaster(a, "a").Broadcast(context.Background(),
		BifurcationPatternEmergence, map[string]float64{"confidence": 0.78}, md)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.Delivered)

	md["topic"] = "mutated"
	drain(t, b)

	payloads := got.snapshot()
	require.Len(t, payloads, 1)
	bif := payloads[0].(*Bifurcation)
	assert.Equal(t, BifurcationPatternEmergence, bif.Type)
	assert.Equal(t, "a", bif.Origin)
	assert.Equal(t, "temperature", bif.Metadata["topic"])
	assert.JSONEq(t, `{"confidence":0.78}`, string(bif.Data))
}
