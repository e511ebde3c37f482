package strategy

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/internal/dynamics"
	"github.com/dyluth/collective/pkg/blackboard"
)

const (
	defaultConfidence = 0.5
	defaultResonance  = 1.0
)

// ConsensusOptions configures ConsensusFormation.
type ConsensusOptions struct {
	// NodeID is the origin of merged insights when no IntegrationContext
	// supplies one.
	NodeID string

	// MinGroupSize is the smallest group that is merged. Default 2.
	MinGroupSize int

	// Params bounds the stability run. Zero value uses dynamics.DefaultParams.
	Params dynamics.Params

	// Gain scales confidence spread and stance conflict into the starting
	// point of the quadratic map. Default 1.5.
	Gain float64

	// Perturbation is the constant c of the quadratic map. Default 0.
	Perturbation complex128

	// Ledger, when set, records the best merge per topic.
	Ledger consistency.Manager
}

func (o ConsensusOptions) withDefaults() ConsensusOptions {
	if o.MinGroupSize <= 0 {
		o.MinGroupSize = 2
	}
	if o.Params.MaxIterations <= 0 {
		o.Params = dynamics.DefaultParams()
	}
	if o.Gain <= 0 {
		o.Gain = 1.5
	}
	return o
}

// ConsensusFormation merges groups of related insights into integrated
// understandings. Groups whose stability run escapes are dropped as
// contradictory.
type ConsensusFormation struct {
	opts   ConsensusOptions
	engine dynamics.Quadratic
}

// NewConsensusFormation creates the strategy.
func NewConsensusFormation(opts ConsensusOptions) *ConsensusFormation {
	return &ConsensusFormation{opts: opts.withDefaults()}
}

// Name returns "consensus-formation".
func (c *ConsensusFormation) Name() string { return NameConsensus }

// Process merges insights using the configured node as origin.
func (c *ConsensusFormation) Process(ctx context.Context, insights []*blackboard.Insight) ([]*blackboard.Insight, error) {
	return c.Integrate(ctx, insights, &IntegrationContext{NodeID: c.opts.NodeID})
}

// Integrate merges every group of at least MinGroupSize insights. Output is
// ordered by group key and does not depend on input order.
func (c *ConsensusFormation) Integrate(ctx context.Context, insights []*blackboard.Insight, ictx *IntegrationContext) ([]*blackboard.Insight, error) {
	origin := c.opts.NodeID
	var task string
	if ictx != nil {
		if ictx.NodeID != "" {
			origin = ictx.NodeID
		}
		task = ictx.Task
	}

	var out []*blackboard.Insight
	for _, g := range groupInsights(insights) {
		if len(g.members) < c.opts.MinGroupSize {
			continue
		}

		assessment := c.assess(g)
		if assessment.Outcome == dynamics.OutcomeEscaped {
			log.Printf("[Strategy] Discarding contradictory group %s (%d insights)", g.key, len(g.members))
			continue
		}

		merged, err := c.merge(g, origin, task, assessment, ictx)
		if err != nil {
			return nil, err
		}

		if c.opts.Ledger != nil && g.topic != "" {
			if _, err := RecordConsensus(ctx, c.opts.Ledger, merged, len(g.members)); err != nil {
				return nil, fmt.Errorf("failed to record consensus for %q: %w", g.topic, err)
			}
		}
		out = append(out, merged)
	}
	return out, nil
}

// assess runs the quadratic map from a point whose real part is the scaled
// confidence spread and whose imaginary part is the scaled stance conflict.
func (c *ConsensusFormation) assess(g group) Assessment {
	z0 := complex(c.opts.Gain*g.spread(), c.opts.Gain*g.conflict())
	r := dynamics.Run[complex128, complex128](c.engine, z0, c.opts.Perturbation, c.opts.Params)
	return Assessment{
		Outcome:    r.Outcome,
		Stability:  dynamics.StabilityScore(r, c.opts.Params),
		Iterations: r.Iterations,
	}
}

func (c *ConsensusFormation) merge(g group, origin, task string, a Assessment, ictx *IntegrationContext) (*blackboard.Insight, error) {
	scale := ScaleFor(g.origins(), g.allIntegrated())
	if ictx != nil && ictx.Scale != "" {
		scale = ictx.Scale
	}

	opts := []blackboard.InsightOption{
		blackboard.WithConfidence(MergedConfidence(g.members)),
		blackboard.WithResonance(a.Stability),
		blackboard.WithDerivedFrom(ids(g.members)...),
		blackboard.WithMeta(blackboard.MetaStrategy, NameConsensus),
		blackboard.WithMeta(MetaScale, string(scale)),
		blackboard.WithMeta("sources", strconv.Itoa(len(g.members))),
	}
	for k, v := range a.metadata() {
		opts = append(opts, blackboard.WithMeta(k, v))
	}
	if g.topic != "" {
		opts = append(opts, blackboard.WithTopic(g.topic))
	}
	if task != "" {
		opts = append(opts, blackboard.WithMeta(blackboard.MetaTask, task))
	}

	merged, err := blackboard.NewInsight(origin, blackboard.InsightTypeIntegratedUnderstanding, g.content(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create merged insight for %s: %w", g.key, err)
	}
	return merged, nil
}

// MergedConfidence is Σ wᵢcᵢ / Σ wᵢ with wᵢ = cᵢ·rᵢ. Missing confidence counts
// as 0.5 and missing resonance as 1. A group with zero total weight scores 0.
func MergedConfidence(insights []*blackboard.Insight) float64 {
	var num, den float64
	for _, i := range insights {
		c := i.ConfidenceOr(defaultConfidence)
		w := c * i.ResonanceOr(defaultResonance)
		num += w * c
		den += w
	}
	if den == 0 {
		return 0
	}
	return clamp01(num / den)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
