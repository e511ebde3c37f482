package strategy

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/dyluth/collective/internal/dynamics"
	"github.com/dyluth/collective/pkg/blackboard"
)

// CrossNodeOptions configures CrossNodeIntegration.
type CrossNodeOptions struct {
	MinOrigins int             // distinct trusted origins required per group, default 2
	Params     dynamics.Params // zero value uses dynamics.DefaultParams
}

// CrossNodeIntegration merges a topic only when enough distinct, trusted
// nodes have spoken about it. Each insight is weighted by its confidence and
// its origin's trust level; origins absent from the context are ignored.
type CrossNodeIntegration struct {
	opts   CrossNodeOptions
	engine dynamics.Relaxation
}

// NewCrossNodeIntegration creates the strategy.
func NewCrossNodeIntegration(opts CrossNodeOptions) *CrossNodeIntegration {
	if opts.MinOrigins <= 0 {
		opts.MinOrigins = 2
	}
	if opts.Params.MaxIterations <= 0 {
		opts.Params = dynamics.DefaultParams()
	}
	return &CrossNodeIntegration{opts: opts}
}

// Name returns "cross-node-integration".
func (s *CrossNodeIntegration) Name() string { return NameCrossNode }

// Integrate emits one integrated understanding per qualifying group.
func (s *CrossNodeIntegration) Integrate(ctx context.Context, insights []*blackboard.Insight, ictx *IntegrationContext) ([]*blackboard.Insight, error) {
	if ictx == nil || ictx.NodeID == "" {
		return nil, fmt.Errorf("cross-node integration requires an integration context with a node ID")
	}

	var out []*blackboard.Insight
	for _, g := range groupInsights(insights) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trusted := trustedMembers(g, ictx)
		origins := make(map[string]struct{})
		for _, i := range trusted {
			origins[i.OriginNodeID] = struct{}{}
		}
		if len(origins) < s.opts.MinOrigins {
			continue
		}

		weighted, trustMean := s.weigh(trusted, ictx)
		assessment := s.settle(trusted, weighted, trustMean)

		scale := ScaleFor(len(origins), g.allIntegrated())
		if ictx.Scale != "" {
			scale = ictx.Scale
		}
		kept := group{key: g.key, topic: g.topic, members: trusted}

		opts := []blackboard.InsightOption{
			blackboard.WithConfidence(weighted),
			blackboard.WithResonance(assessment.Stability),
			blackboard.WithDerivedFrom(ids(trusted)...),
			blackboard.WithMeta(blackboard.MetaStrategy, NameCrossNode),
			blackboard.WithMeta(MetaScale, string(scale)),
			blackboard.WithMeta("origins", strconv.Itoa(len(origins))),
			blackboard.WithMeta("sources", strconv.Itoa(len(trusted))),
		}
		for k, v := range assessment.metadata() {
			opts = append(opts, blackboard.WithMeta(k, v))
		}
		if g.topic != "" {
			opts = append(opts, blackboard.WithTopic(g.topic))
		}
		if ictx.Task != "" {
			opts = append(opts, blackboard.WithMeta(blackboard.MetaTask, ictx.Task))
		}

		merged, err := blackboard.NewInsight(ictx.NodeID, blackboard.InsightTypeIntegratedUnderstanding, kept.content(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create integrated insight for %s: %w", g.key, err)
		}
		out = append(out, merged)
	}
	return out, nil
}

func trustedMembers(g group, ictx *IntegrationContext) []*blackboard.Insight {
	var out []*blackboard.Insight
	for _, i := range g.members {
		if t, ok := ictx.Trust(i.OriginNodeID); ok && t > 0 {
			out = append(out, i)
		}
	}
	return out
}

// weigh returns the trust-weighted confidence and the mean trust of the
// contributing origins.
func (s *CrossNodeIntegration) weigh(members []*blackboard.Insight, ictx *IntegrationContext) (float64, float64) {
	var num, den float64
	trustByOrigin := make(map[string]float64)
	for _, i := range members {
		t, _ := ictx.Trust(i.OriginNodeID)
		trustByOrigin[i.OriginNodeID] = t
		c := i.ConfidenceOr(defaultConfidence)
		w := t * c
		num += w * c
		den += w
	}

	origins := make([]string, 0, len(trustByOrigin))
	for o := range trustByOrigin {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	var sum float64
	for _, o := range origins {
		sum += trustByOrigin[o]
	}

	if den == 0 {
		return 0, sum / float64(len(origins))
	}
	return clamp01(num / den), sum / float64(len(origins))
}

// settle relaxes the least confident member toward the weighted confidence at
// a rate equal to the mean trust. Well-trusted groups settle quickly.
func (s *CrossNodeIntegration) settle(members []*blackboard.Insight, target, rate float64) Assessment {
	lowest := target
	for _, i := range members {
		lowest = min(lowest, i.ConfidenceOr(defaultConfidence))
	}
	t := dynamics.RelaxTarget{Target: target, Rate: rate}
	r := dynamics.Run[dynamics.RelaxState, dynamics.RelaxTarget](s.engine, dynamics.RelaxFrom(lowest, t), t, s.opts.Params)
	return Assessment{
		Outcome:    r.Outcome,
		Stability:  dynamics.StabilityScore(r, s.opts.Params),
		Iterations: r.Iterations,
	}
}
