// Package events implements the in-process publish/subscribe bus nodes use to
// announce what happens to insights.
//
// Event types are dot-separated paths. A listener subscribed to a path receives
// every event whose type is that path or one of its descendants, so a listener on
// "pattern" sees both "pattern.detected" and "pattern.bifurcation", and a
// listener on All sees everything.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dyluth/collective/pkg/blackboard"
)

// Type is a hierarchical, dot-separated event type.
type Type string

// All matches every event type.
const All Type = ""

const (
	TypeInsight           Type = "insight"
	TypeInsightReceived   Type = "insight.received"
	TypeInsightIntegrated Type = "insight.integrated"
	TypePattern           Type = "pattern"
	TypePatternDetected   Type = "pattern.detected"
	TypeBifurcation       Type = "pattern.bifurcation"
	TypeNode              Type = "node"
	TypeNodeStatus        Type = "node.status"
	TypeBoundary          Type = "boundary"
	TypeBoundaryDenied    Type = "boundary.denied"
)

// Covers reports whether a subscription on t receives events of type other.
func (t Type) Covers(other Type) bool {
	if t == All || t == other {
		return true
	}
	return strings.HasPrefix(string(other), string(t)+".")
}

// Event is an immutable notification published on a Bus.
type Event interface {
	Type() Type
	Timestamp() time.Time
	Source() string
}

// Base carries the fields shared by every event. Embed it in concrete events.
type Base struct {
	At   time.Time
	From string
}

func (b Base) Timestamp() time.Time { return b.At }
func (b Base) Source() string       { return b.From }

func newBase(source string) Base {
	return Base{At: time.Now(), From: source}
}

// InsightReceivedEvent is published once an insight has passed the boundary
// and been accepted by a node.
type InsightReceivedEvent struct {
	Base
	Insight *blackboard.Insight
	Task    string
}

func NewInsightReceivedEvent(source string, insight *blackboard.Insight, task string) *InsightReceivedEvent {
	return &InsightReceivedEvent{Base: newBase(source), Insight: insight, Task: task}
}

func (e *InsightReceivedEvent) Type() Type { return TypeInsightReceived }

// InsightIntegratedEvent is published after a strategy folded inputs into outputs.
type InsightIntegratedEvent struct {
	Base
	Strategy string
	inputs   []string
	outputs  []*blackboard.Insight
}

func NewInsightIntegratedEvent(source, strategy string, inputIDs []string, outputs []*blackboard.Insight) *InsightIntegratedEvent {
	return &InsightIntegratedEvent{
		Base:     newBase(source),
		Strategy: strategy,
		inputs:   append([]string(nil), inputIDs...),
		outputs:  append([]*blackboard.Insight(nil), outputs...),
	}
}

func (e *InsightIntegratedEvent) Type() Type { return TypeInsightIntegrated }

// InputIDs returns a copy of the IDs of the insights that were integrated.
func (e *InsightIntegratedEvent) InputIDs() []string {
	return append([]string(nil), e.inputs...)
}

// Outputs returns a copy of the insights the strategy produced.
func (e *InsightIntegratedEvent) Outputs() []*blackboard.Insight {
	return append([]*blackboard.Insight(nil), e.outputs...)
}

// PatternDetectedEvent announces that a set of insights converged on a pattern.
type PatternDetectedEvent struct {
	Base
	Description string
	Pattern     *blackboard.Insight
	Iterations  int
	Stability   float64
	related     []*blackboard.Insight
}

func NewPatternDetectedEvent(source, description string, pattern *blackboard.Insight, related []*blackboard.Insight, iterations int, stability float64) *PatternDetectedEvent {
	return &PatternDetectedEvent{
		Base:        newBase(source),
		Description: description,
		Pattern:     pattern,
		Iterations:  iterations,
		Stability:   stability,
		related:     append([]*blackboard.Insight(nil), related...),
	}
}

func (e *PatternDetectedEvent) Type() Type { return TypePatternDetected }

// RelatedInsights returns a copy of the source insights the pattern was built from.
func (e *PatternDetectedEvent) RelatedInsights() []*blackboard.Insight {
	return append([]*blackboard.Insight(nil), e.related...)
}

// BifurcationReceivedEvent relays a bifurcation notification received from a peer.
type BifurcationReceivedEvent struct {
	Base
	BifurcationType string
	Data            json.RawMessage
	Origin          string
	metadata        map[string]string
}

func NewBifurcationReceivedEvent(source, bifurcationType string, data json.RawMessage, metadata map[string]string, origin string) *BifurcationReceivedEvent {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &BifurcationReceivedEvent{
		Base:            newBase(source),
		BifurcationType: bifurcationType,
		Data:            append(json.RawMessage(nil), data...),
		Origin:          origin,
		metadata:        md,
	}
}

func (e *BifurcationReceivedEvent) Type() Type { return TypeBifurcation }

// Metadata returns the value of one bifurcation metadata tag.
func (e *BifurcationReceivedEvent) Metadata(key string) string {
	return e.metadata[key]
}

// NodeStatusEvent records a node lifecycle transition.
type NodeStatusEvent struct {
	Base
	Previous blackboard.NodeStatus
	Current  blackboard.NodeStatus
	Reason   string
}

func NewNodeStatusEvent(source string, previous, current blackboard.NodeStatus, reason string) *NodeStatusEvent {
	return &NodeStatusEvent{Base: newBase(source), Previous: previous, Current: current, Reason: reason}
}

func (e *NodeStatusEvent) Type() Type { return TypeNodeStatus }

// BoundaryDeniedEvent records an insight rejected by the information boundary.
type BoundaryDeniedEvent struct {
	Base
	InsightID string
	Origin    string
	Direction string
	Reason    string
}

func NewBoundaryDeniedEvent(source, insightID, origin, direction, reason string) *BoundaryDeniedEvent {
	return &BoundaryDeniedEvent{
		Base:      newBase(source),
		InsightID: insightID,
		Origin:    origin,
		Direction: direction,
		Reason:    reason,
	}
}

func (e *BoundaryDeniedEvent) Type() Type { return TypeBoundaryDenied }
