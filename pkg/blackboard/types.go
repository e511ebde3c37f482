package blackboard

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Insight represents an immutable unit of knowledge exchanged between nodes.
// Once created, every field except Metadata is fixed. Refinement produces a new
// insight that references its predecessors through MetaDerivedFrom.
type Insight struct {
	ID           string            `json:"id"`                   // UUID - globally unique across the collective's lifetime
	OriginNodeID string            `json:"origin_node_id"`       // UUID of the node that produced the insight
	CreatedAtMs  int64             `json:"created_at_ms"`        // Unix timestamp in milliseconds
	Type         InsightType       `json:"type"`                 // Closed set of insight kinds
	Content      json.RawMessage   `json:"content"`              // Opaque JSON payload
	Confidence   *float64          `json:"confidence,omitempty"` // Optional, in [0,1]
	Resonance    *float64          `json:"resonance,omitempty"`  // Optional impact weight
	Metadata     map[string]string `json:"metadata,omitempty"`   // Free-form tags
}

// InsightType classifies how an insight came to exist.
type InsightType string

const (
	// InsightTypeRawObservation is a direct observation made by a node
	InsightTypeRawObservation InsightType = "RAW_OBSERVATION"

	// InsightTypeDerivedPattern is a pattern derived from other insights
	InsightTypeDerivedPattern InsightType = "DERIVED_PATTERN"

	// InsightTypeHypothesis is a tentative explanation awaiting corroboration
	InsightTypeHypothesis InsightType = "HYPOTHESIS"

	// InsightTypeIntegratedUnderstanding is the output of consensus formation
	InsightTypeIntegratedUnderstanding InsightType = "INTEGRATED_UNDERSTANDING"

	// InsightTypeExternalInput is knowledge injected from outside the collective
	InsightTypeExternalInput InsightType = "EXTERNAL_INPUT"
)

// NodeStatus is the lifecycle state of a node.
type NodeStatus string

const (
	NodeStatusActive        NodeStatus = "ACTIVE"
	NodeStatusInactive      NodeStatus = "INACTIVE"
	NodeStatusSynchronizing NodeStatus = "SYNCHRONIZING"
	NodeStatusError         NodeStatus = "ERROR"
)

// Well-known metadata keys.
const (
	MetaTopic       = "topic"
	MetaDerivedFrom = "derived_from"
	MetaStability   = "stability"
	MetaIterations  = "iterations"
	MetaOutcome     = "outcome"
	MetaStrategy    = "strategy"
	MetaTask        = "task"
	MetaStance      = "stance"
	MetaRedaction   = "redaction"
)

// InsightOption customises an insight at construction time.
type InsightOption func(*Insight)

// WithConfidence sets the confidence score.
func WithConfidence(c float64) InsightOption {
	return func(i *Insight) { i.Confidence = Float(c) }
}

// WithResonance sets the resonance score.
func WithResonance(r float64) InsightOption {
	return func(i *Insight) { i.Resonance = Float(r) }
}

// WithTopic tags the insight with a topic used for grouping during consensus.
func WithTopic(topic string) InsightOption {
	return WithMeta(MetaTopic, topic)
}

// WithMeta sets a single metadata tag.
func WithMeta(key, value string) InsightOption {
	return func(i *Insight) {
		if i.Metadata == nil {
			i.Metadata = make(map[string]string)
		}
		i.Metadata[key] = value
	}
}

// WithDerivedFrom records the predecessor insights.
func WithDerivedFrom(ids ...string) InsightOption {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return WithMeta(MetaDerivedFrom, strings.Join(sorted, ","))
}

// WithCreatedAt overrides the creation timestamp. Intended for replay and tests.
func WithCreatedAt(t time.Time) InsightOption {
	return func(i *Insight) { i.CreatedAtMs = t.UnixMilli() }
}

// NewInsight creates a validated insight with a fresh ID and the current time.
// Content is marshalled to JSON unless it already is a json.RawMessage.
func NewInsight(originNodeID string, t InsightType, content any, opts ...InsightOption) (*Insight, error) {
	raw, err := marshalContent(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insight content: %w", err)
	}

	insight := &Insight{
		ID:           uuid.New().String(),
		OriginNodeID: originNodeID,
		CreatedAtMs:  time.Now().UnixMilli(),
		Type:         t,
		Content:      raw,
	}
	for _, opt := range opts {
		opt(insight)
	}

	if err := insight.Validate(); err != nil {
		return nil, fmt.Errorf("invalid insight: %w", err)
	}

	return insight, nil
}

func marshalContent(content any) (json.RawMessage, error) {
	switch c := content.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(c) {
			return nil, fmt.Errorf("content is not valid JSON")
		}
		return append(json.RawMessage(nil), c...), nil
	default:
		return json.Marshal(c)
	}
}

// Validate checks if the Insight has valid field values.
// Returns an error if any validation fails.
func (i *Insight) Validate() error {
	if !isValidUUID(i.ID) {
		return fmt.Errorf("invalid insight ID: not a valid UUID")
	}

	if !isValidUUID(i.OriginNodeID) {
		return fmt.Errorf("invalid origin node ID: not a valid UUID")
	}

	if err := i.Type.Validate(); err != nil {
		return fmt.Errorf("invalid insight type: %w", err)
	}

	if i.CreatedAtMs <= 0 {
		return fmt.Errorf("invalid created_at_ms: must be > 0, got %d", i.CreatedAtMs)
	}

	if len(i.Content) > 0 && !json.Valid(i.Content) {
		return fmt.Errorf("content is not valid JSON")
	}

	if i.Confidence != nil {
		c := *i.Confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return fmt.Errorf("invalid confidence: must be in [0,1], got %v", c)
		}
	}

	if i.Resonance != nil && (math.IsNaN(*i.Resonance) || math.IsInf(*i.Resonance, 0)) {
		return fmt.Errorf("invalid resonance: must be finite")
	}

	return nil
}

// Validate checks if the InsightType is a valid enum value.
func (t InsightType) Validate() error {
	switch t {
	case InsightTypeRawObservation, InsightTypeDerivedPattern, InsightTypeHypothesis,
		InsightTypeIntegratedUnderstanding, InsightTypeExternalInput:
		return nil
	default:
		return fmt.Errorf("unknown insight type: %q", t)
	}
}

// Validate checks if the NodeStatus is a valid enum value.
func (s NodeStatus) Validate() error {
	switch s {
	case NodeStatusActive, NodeStatusInactive, NodeStatusSynchronizing, NodeStatusError:
		return nil
	default:
		return fmt.Errorf("unknown node status: %q", s)
	}
}

// Timestamp returns the creation time.
func (i *Insight) Timestamp() time.Time {
	return time.UnixMilli(i.CreatedAtMs)
}

// ConfidenceOr returns the confidence score, or def when unset.
func (i *Insight) ConfidenceOr(def float64) float64 {
	if i.Confidence == nil {
		return def
	}
	return *i.Confidence
}

// ResonanceOr returns the resonance score, or def when unset.
func (i *Insight) ResonanceOr(def float64) float64 {
	if i.Resonance == nil {
		return def
	}
	return *i.Resonance
}

// Meta returns a metadata value, or "" when absent.
func (i *Insight) Meta(key string) string {
	return i.Metadata[key]
}

// Topic returns the topic tag, or "" when untagged.
func (i *Insight) Topic() string {
	return i.Meta(MetaTopic)
}

// DerivedFrom returns the predecessor IDs recorded in metadata.
func (i *Insight) DerivedFrom() []string {
	v := i.Meta(MetaDerivedFrom)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// WithMetadata returns a copy of the insight with the given tags merged into its
// metadata. The receiver is left untouched.
func (i *Insight) WithMetadata(tags map[string]string) *Insight {
	cp := *i
	cp.Content = append(json.RawMessage(nil), i.Content...)
	cp.Metadata = make(map[string]string, len(i.Metadata)+len(tags))
	for k, v := range i.Metadata {
		cp.Metadata[k] = v
	}
	for k, v := range tags {
		cp.Metadata[k] = v
	}
	return &cp
}

// Float returns a pointer to f. Convenience for optional scores.
func Float(f float64) *float64 {
	return &f
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
