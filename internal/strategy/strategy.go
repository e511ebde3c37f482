// Package strategy folds many insights into fewer, higher-confidence ones.
//
// A ProcessingStrategy works on insights alone; an IntegrationStrategy also
// receives an IntegrationContext describing who is integrating and how far
// they trust each origin. Strategies are selected by name at runtime through
// a Registry.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dyluth/collective/internal/dynamics"
	"github.com/dyluth/collective/pkg/blackboard"
)

// Strategy names.
const (
	NameConsensus = "consensus-formation"
	NameCrossNode = "cross-node-integration"
)

// MetaScale records the processing scale on integrated insights.
const MetaScale = "scale"

// ErrUnknownStrategy is returned by Registry.Get for unregistered names.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is the common part of processing and integration strategies.
type Strategy interface {
	Name() string
}

// ProcessingStrategy transforms a batch of insights.
type ProcessingStrategy interface {
	Strategy
	Process(ctx context.Context, insights []*blackboard.Insight) ([]*blackboard.Insight, error)
}

// IntegrationStrategy merges related insights under an integration context.
type IntegrationStrategy interface {
	Strategy
	Integrate(ctx context.Context, insights []*blackboard.Insight, ictx *IntegrationContext) ([]*blackboard.Insight, error)
}

// Scale is the breadth of an integration.
type Scale string

const (
	ScaleMicro Scale = "MICRO" // one node
	ScaleMeso  Scale = "MESO"  // a handful of nodes
	ScaleMacro Scale = "MACRO" // a large part of the collective
	ScaleMeta  Scale = "META"  // integration of integrated understandings
)

// ScaleFor picks the scale for a group drawn from the given number of
// distinct origins. Groups made only of integrated understandings are META.
func ScaleFor(origins int, allIntegrated bool) Scale {
	switch {
	case allIntegrated:
		return ScaleMeta
	case origins <= 1:
		return ScaleMicro
	case origins <= 4:
		return ScaleMeso
	default:
		return ScaleMacro
	}
}

// IntegrationContext describes the integrating node.
type IntegrationContext struct {
	NodeID      string
	Task        string
	TrustLevels map[string]float64
	Scale       Scale // optional; derived per group when empty
}

// Trust returns the trust level for nodeID. The integrating node trusts itself fully.
func (c *IntegrationContext) Trust(nodeID string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	if nodeID == c.NodeID {
		return 1, true
	}
	v, ok := c.TrustLevels[nodeID]
	return v, ok
}

// Apply runs s on insights, passing ictx when s is an IntegrationStrategy.
func Apply(ctx context.Context, s Strategy, insights []*blackboard.Insight, ictx *IntegrationContext) ([]*blackboard.Insight, error) {
	switch st := s.(type) {
	case IntegrationStrategy:
		return st.Integrate(ctx, insights, ictx)
	case ProcessingStrategy:
		return st.Process(ctx, insights)
	default:
		return nil, fmt.Errorf("strategy %q implements neither Process nor Integrate", s.Name())
	}
}

type boundIntegration struct {
	IntegrationStrategy
	ictx *IntegrationContext
}

func (b boundIntegration) Process(ctx context.Context, insights []*blackboard.Insight) ([]*blackboard.Insight, error) {
	return b.Integrate(ctx, insights, b.ictx)
}

// AsProcessing binds an integration strategy to a fixed context.
func AsProcessing(s IntegrationStrategy, ictx *IntegrationContext) ProcessingStrategy {
	return boundIntegration{IntegrationStrategy: s, ictx: ictx}
}

// Registry holds strategies by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s. Names must be unique.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.Name()]; ok {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Assessment is the dynamics classification recorded on an integrated insight.
type Assessment struct {
	Outcome    dynamics.Outcome
	Stability  float64
	Iterations int
}

// AssessmentOf reads the classification recorded in insight metadata.
func AssessmentOf(i *blackboard.Insight) (Assessment, bool) {
	outcome := i.Meta(blackboard.MetaOutcome)
	if outcome == "" {
		return Assessment{}, false
	}
	a := Assessment{Outcome: dynamics.Outcome(outcome)}
	a.Stability, _ = strconv.ParseFloat(i.Meta(blackboard.MetaStability), 64)
	a.Iterations, _ = strconv.Atoi(i.Meta(blackboard.MetaIterations))
	return a, true
}

func (a Assessment) metadata() map[string]string {
	return map[string]string{
		blackboard.MetaOutcome:    string(a.Outcome),
		blackboard.MetaStability:  strconv.FormatFloat(a.Stability, 'f', 4, 64),
		blackboard.MetaIterations: strconv.Itoa(a.Iterations),
	}
}

func sortByID(insights []*blackboard.Insight) []*blackboard.Insight {
	out := make([]*blackboard.Insight, 0, len(insights))
	for _, i := range insights {
		if i != nil {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func ids(insights []*blackboard.Insight) []string {
	out := make([]string, len(insights))
	for n, i := range insights {
		out[n] = i.ID
	}
	return out
}
