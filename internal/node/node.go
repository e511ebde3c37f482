// Package node composes the collective's parts into one participant.
//
// A Node owns an event bus, a transport, an information boundary with its
// trust manager, a consistency manager and the active integration strategy.
// Insights enter through Ingest, either directly or from peers via the
// transport, are windowed per topic and folded by the strategy. Converged
// merges are announced on the bus as PatternDetectedEvents and to peers as
// PATTERN_EMERGENCE bifurcations.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/collective/internal/boundary"
	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/internal/events"
	"github.com/dyluth/collective/internal/metrics"
	"github.com/dyluth/collective/internal/strategy"
	"github.com/dyluth/collective/internal/transport"
	"github.com/dyluth/collective/pkg/blackboard"
)

var (
	// ErrIntakeHalted is returned by Ingest while the node is INACTIVE or in ERROR.
	ErrIntakeHalted = errors.New("node intake halted")

	// ErrNotActive is returned by outbound operations on a node that is not ACTIVE.
	ErrNotActive = errors.New("node not active")

	// ErrShutdown is returned by Initialize once the node has been shut down.
	// Shutdown closes the transport and consistency manager, so a node is not
	// restartable; create a new one instead.
	ErrShutdown = errors.New("node shut down")
)

// InsightStore persists accepted and integrated insights. *blackboard.Client
// satisfies it.
type InsightStore interface {
	CreateInsight(ctx context.Context, insight *blackboard.Insight) error
	InsightExists(ctx context.Context, insightID string) (bool, error)
}

// Starter is implemented by transports that need to be started, such as
// *transport.RedisProtocol.
type Starter interface {
	Start(ctx context.Context) error
}

type closer interface {
	Close(ctx context.Context) error
}

// Options configures a Node. Protocol is required; everything else has a default.
type Options struct {
	ID       string // UUID, generated when empty
	Task     string
	Instance string // used in structured logs

	Bus         *events.Bus
	Protocol    transport.Protocol
	Policy      *boundary.Policy
	Trust       *boundary.TrustManager
	Consistency consistency.Manager
	Strategies  *strategy.Registry
	Strategy    string // active strategy name, default consensus-formation
	Store       InsightStore
	Metrics     metrics.Registry

	Window        int           // insights per topic before integrating, default 2
	FlushInterval time.Duration // integrate partial windows this often, 0 disables
}

// Node is one participant of the collective.
type Node struct {
	id       string
	task     string
	instance string

	bus          *events.Bus
	protocol     transport.Protocol
	bifurcations *transport.BifurcationBroadcaster
	policy       *boundary.Policy
	trust        *boundary.TrustManager
	manager      consistency.Manager
	strategies   *strategy.Registry
	store        InsightStore
	metrics      metrics.Registry

	window     int
	flushEvery time.Duration

	mu     sync.RWMutex
	status blackboard.NodeStatus
	closed bool
	active strategy.Strategy
	subs   []*events.Subscription
	cancel context.CancelFunc
	loops  sync.WaitGroup

	windowMu sync.Mutex
	windows  map[string]*window
}

// New creates an INACTIVE node.
func New(opts Options) (*Node, error) {
	if opts.Protocol == nil {
		return nil, fmt.Errorf("node requires a transport protocol")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if _, err := uuid.Parse(opts.ID); err != nil {
		return nil, fmt.Errorf("invalid node ID %q: %w", opts.ID, err)
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Policy == nil {
		opts.Policy = boundary.NewPolicy(opts.ID)
	}
	if opts.Trust == nil {
		opts.Trust = boundary.NewDefaultTrustManager()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Window <= 0 {
		opts.Window = 2
	}
	if opts.Strategies == nil {
		reg, err := strategy.NewRegistry(
			strategy.NewConsensusFormation(strategy.ConsensusOptions{NodeID: opts.ID, Ledger: opts.Consistency}),
			strategy.NewCrossNodeIntegration(strategy.CrossNodeOptions{}),
		)
		if err != nil {
			return nil, err
		}
		opts.Strategies = reg
	}
	if opts.Strategy == "" {
		opts.Strategy = strategy.NameConsensus
	}
	active, err := opts.Strategies.Get(opts.Strategy)
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:           opts.ID,
		task:         opts.Task,
		instance:     opts.Instance,
		bus:          opts.Bus,
		protocol:     opts.Protocol,
		bifurcations: transport.NewBifurcationBroadcaster(opts.Protocol, opts.ID),
		policy:       opts.Policy,
		trust:        opts.Trust,
		manager:      opts.Consistency,
		strategies:   opts.Strategies,
		store:        opts.Store,
		metrics:      opts.Metrics,
		window:       opts.Window,
		flushEvery:   opts.FlushInterval,
		status:       blackboard.NodeStatusInactive,
		active:       active,
		windows:      make(map[string]*window),
	}

	n.protocol.RegisterReceiver(transport.KindInsight, n.receiveInsight)
	n.protocol.RegisterReceiver(transport.KindBifurcation, n.receiveBifurcation)
	return n, nil
}

// ID returns the node ID.
func (n *Node) ID() string { return n.id }

// Bus returns the node's event bus.
func (n *Node) Bus() *events.Bus { return n.bus }

// Trust returns the node's trust manager.
func (n *Node) Trust() *boundary.TrustManager { return n.trust }

// Status returns the lifecycle status.
func (n *Node) Status() blackboard.NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Strategy returns the name of the active strategy.
func (n *Node) Strategy() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.active.Name()
}

// Initialize moves the node through SYNCHRONIZING to ACTIVE. A failure leaves
// the node in ERROR. A node in ERROR may be initialized again; a node that
// has been shut down returns ErrShutdown.
func (n *Node) Initialize(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("cannot initialize node %s: %w", n.id, ErrShutdown)
	}
	if n.status == blackboard.NodeStatusActive || n.status == blackboard.NodeStatusSynchronizing {
		status := n.status
		n.mu.Unlock()
		return fmt.Errorf("node %s already %s", n.id, status)
	}
	prev := n.status
	n.status = blackboard.NodeStatusSynchronizing
	n.mu.Unlock()

	n.statusChanged(ctx, prev, blackboard.NodeStatusSynchronizing, "initializing")

	if s, ok := n.protocol.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			n.setStatus(ctx, blackboard.NodeStatusError, err.Error())
			return fmt.Errorf("failed to start transport: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.mu.Lock()
	n.subs = append(n.subs, n.bus.Subscribe(events.TypeInsightReceived, events.ListenerFunc(n.onInsightReceived)))
	n.cancel = cancel
	n.mu.Unlock()

	if n.flushEvery > 0 {
		n.loops.Add(1)
		go n.flushLoop(loopCtx)
	}

	n.setStatus(ctx, blackboard.NodeStatusActive, "initialized")
	log.Printf("[Node] %s active (strategy=%s, window=%d)", n.id, n.Strategy(), n.window)
	return nil
}

// Fail moves the node to ERROR, halting intake until it is re-initialized.
func (n *Node) Fail(ctx context.Context, reason string) {
	n.stopLoops()
	n.setStatus(ctx, blackboard.NodeStatusError, reason)
}

// Shutdown moves the node to INACTIVE, waits for in-flight transactions,
// releases held locks and leaves the transport. It is terminal: later calls
// to Initialize return ErrShutdown.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.closed || n.status == blackboard.NodeStatusInactive {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.stopLoops()
	n.setStatus(ctx, blackboard.NodeStatusInactive, "shutdown")

	var errs []error
	if c, ok := n.manager.(closer); ok {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consistency manager: %w", err))
		}
	}
	if err := n.protocol.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}
	log.Printf("[Node] %s shut down", n.id)
	return errors.Join(errs...)
}

func (n *Node) stopLoops() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	n.loops.Wait()
}

func (n *Node) setStatus(ctx context.Context, next blackboard.NodeStatus, reason string) {
	n.mu.Lock()
	prev := n.status
	n.status = next
	n.mu.Unlock()

	n.statusChanged(ctx, prev, next, reason)
}

// statusChanged records and publishes a transition already applied under mu.
func (n *Node) statusChanged(ctx context.Context, prev, next blackboard.NodeStatus, reason string) {
	if prev == next {
		return
	}
	n.metrics.RecordGauge("node_status", statusGauge(next), metrics.Tags{"node": n.id})
	n.logEvent("status_changed", map[string]interface{}{
		"previous": string(prev),
		"current":  string(next),
		"reason":   reason,
	})
	if err := n.bus.Publish(ctx, events.NewNodeStatusEvent(n.id, prev, next, reason)); err != nil {
		log.Printf("[Node] Status listeners failed: %v", err)
	}
}

func statusGauge(s blackboard.NodeStatus) float64 {
	switch s {
	case blackboard.NodeStatusActive:
		return 1
	case blackboard.NodeStatusSynchronizing:
		return 0.5
	case blackboard.NodeStatusError:
		return -1
	default:
		return 0
	}
}

// SetStrategy switches the active strategy.
func (n *Node) SetStrategy(name string) error {
	s, err := n.strategies.Get(name)
	if err != nil {
		return err
	}
	n.mu.Lock()
	prev := n.active.Name()
	n.active = s
	n.mu.Unlock()

	n.logEvent("strategy_changed", map[string]interface{}{
		"previous": prev,
		"current":  name,
	})
	return nil
}

// Ingest accepts an insight into the node. The boundary is evaluated as
// ingress; a nil TrustLevels uses the trust manager's snapshot and an empty
// Task uses the node's task.
func (n *Node) Ingest(ctx context.Context, insight *blackboard.Insight, bctx boundary.Context) error {
	switch n.Status() {
	case blackboard.NodeStatusInactive, blackboard.NodeStatusError:
		return ErrIntakeHalted
	}
	if insight == nil {
		return fmt.Errorf("nil insight")
	}
	if err := insight.Validate(); err != nil {
		return fmt.Errorf("invalid insight: %w", err)
	}

	bctx = n.boundaryContext(bctx, boundary.Ingress)
	if err := n.policy.Check(insight, bctx); err != nil {
		n.denied(ctx, insight, bctx, err)
		return err
	}

	if n.store != nil {
		exists, err := n.store.InsightExists(ctx, insight.ID)
		if err != nil {
			return fmt.Errorf("failed to check insight %s: %w", insight.ID, err)
		}
		if !exists {
			if err := n.store.CreateInsight(ctx, insight); err != nil {
				return fmt.Errorf("failed to store insight %s: %w", insight.ID, err)
			}
		}
	}

	n.metrics.IncrementCounter("insights_received", metrics.Tags{"type": string(insight.Type)})
	n.logEvent("insight_received", map[string]interface{}{
		"insight_id": insight.ID,
		"origin":     insight.OriginNodeID,
		"type":       string(insight.Type),
		"topic":      insight.Topic(),
	})

	if err := n.bus.Publish(ctx, events.NewInsightReceivedEvent(n.id, insight, bctx.Task)); err != nil {
		log.Printf("[Node] Listeners failed for insight %s: %v", insight.ID, err)
	}
	return nil
}

// Share sends insight to target after the egress boundary check. Content is
// redacted to the target's access level.
func (n *Node) Share(ctx context.Context, target string, insight *blackboard.Insight, bctx boundary.Context) error {
	if n.Status() != blackboard.NodeStatusActive {
		return ErrNotActive
	}

	bctx = n.boundaryContext(bctx, boundary.Egress)
	bctx.Peer = target
	if err := n.policy.Check(insight, bctx); err != nil {
		n.denied(ctx, insight, bctx, err)
		return err
	}

	trust, _ := bctx.Trust(target)
	outgoing, err := boundary.Redact(insight, trust, n.policy.Privacy)
	if err != nil {
		return fmt.Errorf("failed to redact insight %s: %w", insight.ID, err)
	}

	if err := n.protocol.Send(ctx, target, &transport.InsightPayload{Insight: outgoing, Task: bctx.Task}); err != nil {
		return fmt.Errorf("failed to share insight %s with %s: %w", insight.ID, target, err)
	}
	n.metrics.IncrementCounter("insights_shared", metrics.Tags{"redacted": fmt.Sprint(outgoing != insight)})
	return nil
}

// Announce broadcasts a bifurcation to every peer.
func (n *Node) Announce(ctx context.Context, bifurcationType string, data any, metadata map[string]string) (*transport.BroadcastReport, error) {
	if n.Status() != blackboard.NodeStatusActive {
		return nil, ErrNotActive
	}
	report, err := n.bifurcations.Broadcast(ctx, bifurcationType, data, metadata)
	if report != nil {
		n.metrics.IncrementCounter("bifurcations_sent", metrics.Tags{"type": bifurcationType})
	}
	return report, err
}

func (n *Node) boundaryContext(bctx boundary.Context, dir boundary.Direction) boundary.Context {
	if bctx.Task == "" {
		bctx.Task = n.task
	}
	if bctx.TrustLevels == nil {
		bctx.TrustLevels = n.trust.Snapshot()
	}
	bctx.Direction = dir
	return bctx
}

func (n *Node) denied(ctx context.Context, insight *blackboard.Insight, bctx boundary.Context, err error) {
	reason := err.Error()
	var de *boundary.DeniedError
	if errors.As(err, &de) {
		reason = de.Decision.Reason
	}

	n.metrics.IncrementCounter("insights_denied", metrics.Tags{"direction": string(bctx.Direction)})
	n.logEvent("boundary_denied", map[string]interface{}{
		"insight_id": insight.ID,
		"origin":     insight.OriginNodeID,
		"direction":  string(bctx.Direction),
		"reason":     reason,
	})
	if perr := n.bus.Publish(ctx, events.NewBoundaryDeniedEvent(n.id, insight.ID, insight.OriginNodeID, string(bctx.Direction), reason)); perr != nil {
		log.Printf("[Node] Denied listeners failed: %v", perr)
	}
}

func (n *Node) receiveInsight(ctx context.Context, from string, p transport.Payload) error {
	payload, ok := p.(*transport.InsightPayload)
	if !ok || payload.Insight == nil {
		return fmt.Errorf("unexpected insight payload %T from %s", p, from)
	}
	return n.Ingest(ctx, payload.Insight, boundary.Context{Task: payload.Task, Peer: from})
}

func (n *Node) receiveBifurcation(ctx context.Context, from string, p transport.Payload) error {
	b, ok := p.(*transport.Bifurcation)
	if !ok {
		return fmt.Errorf("unexpected bifurcation payload %T from %s", p, from)
	}
	origin := b.Origin
	if origin == "" {
		origin = from
	}

	n.metrics.IncrementCounter("bifurcations_received", metrics.Tags{"type": b.Type})
	n.logEvent("bifurcation_received", map[string]interface{}{
		"bifurcation_type": b.Type,
		"origin":           origin,
	})
	return n.bus.Publish(ctx, events.NewBifurcationReceivedEvent(n.id, b.Type, b.Data, b.Metadata, origin))
}

// logEvent logs a structured event in JSON format.
func (n *Node) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "node"
	data["event_type"] = eventType
	data["node_id"] = n.id
	if n.instance != "" {
		data["instance"] = n.instance
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Node] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
