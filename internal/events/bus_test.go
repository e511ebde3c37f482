package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/collective/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	name string
	log  *[]string
}

func (r *recorder) OnEvent(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.log = append(*r.log, r.name+":"+string(e.Type()))
	return nil
}

func statusEvent() Event {
	return NewNodeStatusEvent("n1", blackboard.NodeStatusInactive, blackboard.NodeStatusActive, "")
}

func TestTypeCovers(t *testing.T) {
	tests := []struct {
		sub, evt Type
		want     bool
	}{
		{All, TypePatternDetected, true},
		{TypePattern, TypePatternDetected, true},
		{TypePattern, TypeBifurcation, true},
		{TypePatternDetected, TypePatternDetected, true},
		{TypePatternDetected, TypePattern, false},
		{TypeInsight, TypePatternDetected, false},
		{Type("insight.rec"), TypeInsightReceived, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.sub)+"->"+string(tt.evt), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Covers(tt.evt))
		})
	}
}

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var log []string

	bus.Subscribe(TypeNodeStatus, &recorder{name: "exact", log: &log})
	bus.Subscribe(All, &recorder{name: "all", log: &log})
	bus.Subscribe(TypeNode, &recorder{name: "super", log: &log})
	bus.Subscribe(TypePattern, &recorder{name: "other", log: &log})

	require.NoError(t, bus.Publish(context.Background(), statusEvent()))

	assert.Equal(t, []string{"exact:node.status", "all:node.status", "super:node.status"}, log)
}

func TestPublish_IsolatesFailingListeners(t *testing.T) {
	bus := NewBus()
	boom := errors.New("boom")
	var calls []string

	bus.Subscribe(All, ListenerFunc(func(context.Context, Event) error {
		calls = append(calls, "first")
		return boom
	}))
	bus.Subscribe(All, ListenerFunc(func(context.Context, Event) error {
		calls = append(calls, "second")
		panic("listener exploded")
	}))
	bus.Subscribe(All, ListenerFunc(func(context.Context, Event) error {
		calls = append(calls, "third")
		return nil
	}))

	err := bus.Publish(context.Background(), statusEvent())

	assert.Equal(t, []string{"first", "second", "third"}, calls)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Len(t, dispatchErr.Failures, 2)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "listener panicked")
	assert.ErrorIs(t, dispatchErr.Join(), boom)
}

func TestUnsubscribe(t *testing.T) {
	t.Run("removes pointer listener", func(t *testing.T) {
		bus := NewBus()
		var log []string
		r := &recorder{name: "r", log: &log}

		bus.Subscribe(TypeNode, r)
		bus.Unsubscribe(TypeNode, r)

		require.NoError(t, bus.Publish(context.Background(), statusEvent()))
		assert.Empty(t, log)
		assert.Equal(t, 0, bus.Len())
	})

	t.Run("removes func listener without panicking", func(t *testing.T) {
		bus := NewBus()
		called := false
		var fn ListenerFunc = func(context.Context, Event) error {
			called = true
			return nil
		}

		bus.Subscribe(All, fn)
		bus.Unsubscribe(All, fn)

		require.NoError(t, bus.Publish(context.Background(), statusEvent()))
		assert.False(t, called)
	})

	t.Run("type must match the subscription", func(t *testing.T) {
		bus := NewBus()
		var log []string
		r := &recorder{name: "r", log: &log}

		bus.Subscribe(TypeNode, r)
		bus.Unsubscribe(TypeNodeStatus, r)
		assert.Equal(t, 1, bus.Len())
	})

	t.Run("subscription handle cancels once", func(t *testing.T) {
		bus := NewBus()
		var log []string
		sub := bus.Subscribe(All, &recorder{name: "r", log: &log})
		bus.Subscribe(All, &recorder{name: "s", log: &log})

		sub.Cancel()
		sub.Cancel()

		require.NoError(t, bus.Publish(context.Background(), statusEvent()))
		assert.Equal(t, []string{"s:node.status"}, log)
	})
}

func TestPublish_ReentrantPublish(t *testing.T) {
	bus := NewBus()
	var seen []Type

	bus.Subscribe(TypeNodeStatus, ListenerFunc(func(ctx context.Context, e Event) error {
		seen = append(seen, e.Type())
		return bus.Publish(ctx, NewBoundaryDeniedEvent("n1", "i1", "o1", "ingress", "no trust"))
	}))
	bus.Subscribe(TypeBoundary, ListenerFunc(func(_ context.Context, e Event) error {
		seen = append(seen, e.Type())
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), statusEvent()))
	assert.Equal(t, []Type{TypeNodeStatus, TypeBoundaryDenied}, seen)
}

func TestPublish_Concurrent(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(All, ListenerFunc(func(context.Context, Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), statusEvent())
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}

func TestStream(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Stream(ctx, TypePattern, 4)

	pattern := NewPatternDetectedEvent("n1", "agreement", nil, nil, 3, 0.9)
	require.NoError(t, bus.Publish(context.Background(), pattern))
	require.NoError(t, bus.Publish(context.Background(), statusEvent()))

	select {
	case e := <-ch:
		assert.Equal(t, TypePatternDetected, e.Type())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for streamed event")
	}

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "stream should close after cancellation")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream close")
	}
	assert.Eventually(t, func() bool { return bus.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventsAreSnapshots(t *testing.T) {
	related := []*blackboard.Insight{{ID: "a"}, {ID: "b"}}
	e := NewPatternDetectedEvent("n1", "agreement", nil, related, 1, 1)

	related[0] = &blackboard.Insight{ID: "mutated"}
	got := e.RelatedInsights()
	got[1] = nil

	assert.Equal(t, "a", e.RelatedInsights()[0].ID)
	assert.Equal(t, "b", e.RelatedInsights()[1].ID)
	assert.Equal(t, "n1", e.Source())
	assert.False(t, e.Timestamp().IsZero())

	md := map[string]string{"k": "v"}
	b := NewBifurcationReceivedEvent("n2", "PATTERN_EMERGENCE", nil, md, "n1")
	md["k"] = "changed"
	assert.Equal(t, "v", b.Metadata("k"))
}
