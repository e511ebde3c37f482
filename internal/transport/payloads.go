package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/dyluth/collective/pkg/blackboard"
)

const (
	KindInsight     Kind = "insight"
	KindBifurcation Kind = "bifurcation"
)

// InsightPayload carries an insight shared by another node.
type InsightPayload struct {
	Insight *blackboard.Insight `json:"insight"`
	Task    string              `json:"task,omitempty"`
}

func (p *InsightPayload) Kind() Kind { return KindInsight }

// Bifurcation announces a qualitative change in a node's understanding, such
// as the emergence of a new pattern.
type Bifurcation struct {
	Type     string            `json:"type"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Origin   string            `json:"origin"`
}

func (b *Bifurcation) Kind() Kind { return KindBifurcation }

// Well-known bifurcation types.
const (
	BifurcationPatternEmergence = "PATTERN_EMERGENCE"
	BifurcationContradiction    = "CONTRADICTION"
)

// BifurcationBroadcaster forwards bifurcation notifications to every peer.
type BifurcationBroadcaster struct {
	protocol Protocol
	origin   string
}

// NewBifurcationBroadcaster creates a broadcaster sending on behalf of origin.
func NewBifurcationBroadcaster(p Protocol, origin string) *BifurcationBroadcaster {
	return &BifurcationBroadcaster{protocol: p, origin: origin}
}

// Broadcast sends a bifurcation of the given type. data is marshalled to JSON.
func (b *BifurcationBroadcaster) Broadcast(ctx context.Context, bifurcationType string, data any, metadata map[string]string) (*BroadcastReport, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bifurcation data: %w", err)
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	report, err := b.protocol.Broadcast(ctx, &Bifurcation{
		Type:     bifurcationType,
		Data:     raw,
		Metadata: md,
		Origin:   b.origin,
	})
	if err != nil {
		log.Printf("[Transport] Bifurcation %s from %s partially delivered: %v", bifurcationType, b.origin, err)
	}
	return report, err
}
