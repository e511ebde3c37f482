package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/dyluth/collective/internal/dynamics"
	"github.com/dyluth/collective/internal/events"
	"github.com/dyluth/collective/internal/metrics"
	"github.com/dyluth/collective/internal/strategy"
	"github.com/dyluth/collective/internal/transport"
	"github.com/dyluth/collective/pkg/blackboard"
)

// window holds received insights of one integration group. dirty is set when
// insights arrived since the last integration attempt.
type window struct {
	members []*blackboard.Insight
	dirty   bool
}

// maxCarryFactor bounds how many unmerged insights a window keeps, as a
// multiple of the window size. The oldest are dropped first.
const maxCarryFactor = 4

// onInsightReceived windows accepted insights by integration group and
// integrates a group once its window is full.
func (n *Node) onInsightReceived(ctx context.Context, e events.Event) error {
	ev, ok := e.(*events.InsightReceivedEvent)
	if !ok {
		return nil
	}
	insight := ev.Insight
	// Our own merges are results, not inputs.
	if insight.OriginNodeID == n.id && insight.Meta(blackboard.MetaStrategy) != "" {
		return nil
	}

	key := strategy.GroupKey(insight)
	n.windowMu.Lock()
	w, ok := n.windows[key]
	if !ok {
		w = &window{}
		n.windows[key] = w
	}
	w.members = append(w.members, insight)
	w.dirty = true
	var batch []*blackboard.Insight
	if len(w.members) >= n.window {
		batch = w.members
		delete(n.windows, key)
	}
	n.windowMu.Unlock()

	if batch == nil {
		return nil
	}
	_, err := n.integrateWindow(ctx, key, batch, ev.Task)
	return err
}

// Flush integrates every window that received insights since its last
// integration attempt and returns the insights produced.
func (n *Node) Flush(ctx context.Context) ([]*blackboard.Insight, error) {
	n.windowMu.Lock()
	pending := make(map[string][]*blackboard.Insight)
	for k, w := range n.windows {
		if w.dirty {
			pending[k] = w.members
			delete(n.windows, k)
		}
	}
	n.windowMu.Unlock()

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*blackboard.Insight
	var errs []error
	for _, k := range keys {
		produced, err := n.integrateWindow(ctx, k, pending[k], n.task)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, produced...)
	}
	return out, errors.Join(errs...)
}

// Pending returns the number of insights waiting in windows.
func (n *Node) Pending() int {
	n.windowMu.Lock()
	defer n.windowMu.Unlock()
	total := 0
	for _, w := range n.windows {
		total += len(w.members)
	}
	return total
}

// integrateWindow integrates one group's batch. Members no output was derived
// from go back to the window for later arrivals; on failure the whole batch
// goes back and is retried by the next flush.
func (n *Node) integrateWindow(ctx context.Context, key string, batch []*blackboard.Insight, task string) ([]*blackboard.Insight, error) {
	produced, err := n.integrate(ctx, batch, task)
	if err != nil {
		n.restore(key, batch, true)
		return nil, err
	}
	n.restore(key, unmerged(batch, produced), false)
	return produced, nil
}

func (n *Node) restore(key string, members []*blackboard.Insight, dirty bool) {
	if len(members) == 0 {
		return
	}
	n.windowMu.Lock()
	defer n.windowMu.Unlock()

	w, ok := n.windows[key]
	if !ok {
		w = &window{}
		n.windows[key] = w
	}
	w.members = append(append([]*blackboard.Insight{}, members...), w.members...)
	w.dirty = w.dirty || dirty

	if limit := n.window * maxCarryFactor; len(w.members) > limit {
		dropped := len(w.members) - limit
		w.members = w.members[dropped:]
		log.Printf("[Node] Dropped %d unmerged insights from window %s", dropped, key)
	}
	n.metrics.RecordGauge("window_carried", float64(len(w.members)), metrics.Tags{"node": n.id})
}

// unmerged returns the members of batch no output was derived from.
func unmerged(batch, produced []*blackboard.Insight) []*blackboard.Insight {
	used := make(map[string]bool)
	for _, o := range produced {
		for _, id := range o.DerivedFrom() {
			used[id] = true
		}
	}
	var out []*blackboard.Insight
	for _, in := range batch {
		if !used[in.ID] {
			out = append(out, in)
		}
	}
	return out
}

func (n *Node) flushLoop(ctx context.Context) {
	defer n.loops.Done()
	ticker := time.NewTicker(n.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.Flush(ctx); err != nil {
				log.Printf("[Node] Flush failed: %v", err)
			}
		}
	}
}

// integrate runs the active strategy over batch, stores and announces the
// results.
func (n *Node) integrate(ctx context.Context, batch []*blackboard.Insight, task string) ([]*blackboard.Insight, error) {
	n.mu.RLock()
	active := n.active
	n.mu.RUnlock()

	ictx := &strategy.IntegrationContext{
		NodeID:      n.id,
		Task:        task,
		TrustLevels: n.trust.Snapshot(),
	}

	start := time.Now()
	outputs, err := strategy.Apply(ctx, active, batch, ictx)
	n.metrics.RecordTimer("integration", time.Since(start), metrics.Tags{"strategy": active.Name()})
	if err != nil {
		n.metrics.IncrementCounter("integration_failures", metrics.Tags{"strategy": active.Name()})
		return nil, fmt.Errorf("strategy %s failed: %w", active.Name(), err)
	}

	n.logEvent("integration_completed", map[string]interface{}{
		"strategy": active.Name(),
		"inputs":   len(batch),
		"outputs":  len(outputs),
	})
	if len(outputs) == 0 {
		return nil, nil
	}

	if n.store != nil {
		for _, o := range outputs {
			if err := n.store.CreateInsight(ctx, o); err != nil {
				return nil, fmt.Errorf("failed to store integrated insight %s: %w", o.ID, err)
			}
		}
	}

	inputIDs := make([]string, len(batch))
	for i, in := range batch {
		inputIDs[i] = in.ID
	}
	if err := n.bus.Publish(ctx, events.NewInsightIntegratedEvent(n.id, active.Name(), inputIDs, outputs)); err != nil {
		log.Printf("[Node] Integration listeners failed: %v", err)
	}

	for _, o := range outputs {
		a, ok := strategy.AssessmentOf(o)
		if !ok || a.Outcome != dynamics.OutcomeConverged {
			continue
		}
		n.patternDetected(ctx, o, related(o, batch), a)
	}
	return outputs, nil
}

func related(o *blackboard.Insight, batch []*blackboard.Insight) []*blackboard.Insight {
	want := make(map[string]bool)
	for _, id := range o.DerivedFrom() {
		want[id] = true
	}
	var out []*blackboard.Insight
	for _, in := range batch {
		if want[in.ID] {
			out = append(out, in)
		}
	}
	return out
}

func (n *Node) patternDetected(ctx context.Context, pattern *blackboard.Insight, sources []*blackboard.Insight, a strategy.Assessment) {
	description := fmt.Sprintf("consensus on %q from %d insights", pattern.Topic(), len(sources))

	n.metrics.IncrementCounter("patterns_detected", nil)
	n.metrics.RecordGauge("pattern_stability", a.Stability, metrics.Tags{"node": n.id})
	n.logEvent("pattern_detected", map[string]interface{}{
		"insight_id": pattern.ID,
		"topic":      pattern.Topic(),
		"confidence": pattern.ConfidenceOr(0),
		"stability":  a.Stability,
		"iterations": a.Iterations,
	})

	if err := n.bus.Publish(ctx, events.NewPatternDetectedEvent(n.id, description, pattern, sources, a.Iterations, a.Stability)); err != nil {
		log.Printf("[Node] Pattern listeners failed: %v", err)
	}

	metadata := map[string]string{
		"insight_id":              pattern.ID,
		blackboard.MetaTopic:      pattern.Topic(),
		blackboard.MetaStability:  strconv.FormatFloat(a.Stability, 'f', 4, 64),
		blackboard.MetaIterations: strconv.Itoa(a.Iterations),
	}
	if _, err := n.bifurcations.Broadcast(ctx, transport.BifurcationPatternEmergence, pattern, metadata); err != nil {
		log.Printf("[Node] Pattern %s not delivered to every peer: %v", pattern.ID, err)
	}
}
