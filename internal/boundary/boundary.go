// Package boundary decides which insights may cross into or out of a node.
//
// Decisions depend only on the insight and the Context supplied with each call:
// the trust level of the node on the other side of the flow, the insight type
// and the current task. Nothing is cached, so a changed trust map takes effect
// on the next evaluation. A node with no trust entry is denied.
package boundary

import (
	"errors"
	"fmt"

	"github.com/dyluth/collective/pkg/blackboard"
)

// Direction distinguishes flows into a node from flows out of it.
type Direction string

const (
	Ingress Direction = "ingress"
	Egress  Direction = "egress"
)

// Context is the per-call input to the boundary.
type Context struct {
	Task        string
	TrustLevels map[string]float64

	// Direction defaults to Ingress.
	Direction Direction

	// Peer is the receiving node on egress. Ignored on ingress, where the
	// insight's origin is the subject of the trust lookup.
	Peer string
}

// Trust returns the trust level recorded for nodeID.
func (c Context) Trust(nodeID string) (float64, bool) {
	t, ok := c.TrustLevels[nodeID]
	return t, ok
}

// TaskRule narrows the policy while a specific task is active.
type TaskRule struct {
	// MinTrust replaces the per-type minimum when set.
	MinTrust *float64

	// AllowedTypes restricts which insight types may flow. Empty allows all.
	AllowedTypes []blackboard.InsightType
}

func (r TaskRule) allows(t blackboard.InsightType) bool {
	if len(r.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range r.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// Policy is the trust and task based boundary. A Policy must not be mutated
// while it is being evaluated; build a new one instead.
type Policy struct {
	// SelfID is the evaluating node. Its own insights always pass ingress.
	SelfID string

	// MinTrust is the minimum trust required per insight type.
	MinTrust map[blackboard.InsightType]float64

	// DefaultMinTrust applies to types without an entry in MinTrust.
	DefaultMinTrust float64

	// Tasks holds task-specific rules keyed by task name.
	Tasks map[string]TaskRule

	// Privacy scrubs content shared on egress. Nil shares content as is.
	Privacy *PrivacyFilter
}

// DefaultMinTrust returns the per-type thresholds used when none are configured.
// Raw observations are gated most strictly, integrated understanding least.
func DefaultMinTrust() map[blackboard.InsightType]float64 {
	return map[blackboard.InsightType]float64{
		blackboard.InsightTypeRawObservation:          0.7,
		blackboard.InsightTypeExternalInput:           0.6,
		blackboard.InsightTypeHypothesis:              0.5,
		blackboard.InsightTypeDerivedPattern:          0.5,
		blackboard.InsightTypeIntegratedUnderstanding: 0.4,
	}
}

// NewPolicy creates a policy for selfID with the default thresholds.
func NewPolicy(selfID string) *Policy {
	return &Policy{
		SelfID:          selfID,
		MinTrust:        DefaultMinTrust(),
		DefaultMinTrust: 0.5,
		Tasks:           map[string]TaskRule{},
		Privacy:         NewPrivacyFilter(DefaultPrivacyLevel),
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed  bool
	Reason   string
	Subject  string  // node whose trust was consulted
	Trust    float64 // trust of the subject, zero when unknown
	Required float64 // threshold applied
}

// Evaluate decides whether insight may flow under ctx.
func (p *Policy) Evaluate(insight *blackboard.Insight, ctx Context) Decision {
	if insight == nil {
		return Decision{Reason: "no insight"}
	}

	direction := ctx.Direction
	if direction == "" {
		direction = Ingress
	}

	subject := insight.OriginNodeID
	if direction == Egress {
		subject = ctx.Peer
		if subject == "" {
			return Decision{Reason: "egress without a peer"}
		}
	} else if p.SelfID != "" && subject == p.SelfID {
		return Decision{Allowed: true, Reason: "own insight", Subject: subject, Trust: 1}
	}

	required, ok := p.MinTrust[insight.Type]
	if !ok {
		required = p.DefaultMinTrust
	}

	if rule, ok := p.Tasks[ctx.Task]; ok {
		if !rule.allows(insight.Type) {
			return Decision{
				Subject: subject,
				Reason:  fmt.Sprintf("type %s not allowed for task %q", insight.Type, ctx.Task),
			}
		}
		if rule.MinTrust != nil {
			required = *rule.MinTrust
		}
	}

	trust, known := ctx.Trust(subject)
	if !known {
		return Decision{Subject: subject, Required: required, Reason: fmt.Sprintf("no trust recorded for node %s", subject)}
	}

	d := Decision{Subject: subject, Trust: trust, Required: required}
	if trust >= required {
		d.Allowed = true
		d.Reason = "trust sufficient"
	} else {
		d.Reason = fmt.Sprintf("trust %.2f below required %.2f for %s", trust, required, insight.Type)
	}
	return d
}

// ShouldAllowFlow reports whether insight may flow under ctx.
func (p *Policy) ShouldAllowFlow(insight *blackboard.Insight, ctx Context) bool {
	return p.Evaluate(insight, ctx).Allowed
}

// Check returns a *DeniedError when the flow is not allowed.
func (p *Policy) Check(insight *blackboard.Insight, ctx Context) error {
	d := p.Evaluate(insight, ctx)
	if d.Allowed {
		return nil
	}

	id := ""
	if insight != nil {
		id = insight.ID
	}
	return &DeniedError{InsightID: id, Decision: d}
}

// ErrBoundaryDenied is matched by every *DeniedError.
var ErrBoundaryDenied = errors.New("boundary denied")

// DeniedError reports an insight rejected by the boundary. It is an expected
// outcome: callers drop or re-route the insight.
type DeniedError struct {
	InsightID string
	Decision  Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("insight %s denied: %s", e.InsightID, e.Decision.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrBoundaryDenied
}
