// Package dynamics runs iterated maps to a classification.
//
// An Engine describes one iterated system over a state S and a per-run
// context C. Run applies it until the state settles (converged), diverges
// (escaped) or the iteration budget is spent (inconclusive). Inconclusive is
// a terminal classification, not a failure. Engines hold no state of their
// own; the caller owns both S and C.
package dynamics

import (
	"fmt"
	"math"
)

// Params bounds a run.
type Params struct {
	Epsilon       float64            // converged when Magnitude < Epsilon
	EscapeBound   float64            // escaped when Magnitude > EscapeBound
	MaxIterations int                // iteration budget
	Extra         map[string]float64 // engine-specific knobs
}

// DefaultParams returns Epsilon 1e-6, EscapeBound 2 and 100 iterations.
func DefaultParams() Params {
	return Params{Epsilon: 1e-6, EscapeBound: 2, MaxIterations: 100}
}

// Float returns an engine-specific parameter, or def when absent.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p.Extra[key]; ok {
		return v
	}
	return def
}

// Engine is an iterated system.
type Engine[S, C any] interface {
	Iterate(state S, ctx C, p Params) S
	HasConverged(state S, p Params) bool
	HasEscaped(state S, p Params) bool
	Magnitude(state S) float64
}

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeConverged    Outcome = "converged"
	OutcomeEscaped      Outcome = "escaped"
	OutcomeInconclusive Outcome = "inconclusive"
)

// Result describes a finished run.
type Result[S any] struct {
	Outcome    Outcome
	Iterations int
	Magnitude  float64
	State      S
}

// Run iterates e from s0 under ctx. Convergence and escape are checked before
// the first iteration and after every iteration, so a state that already
// satisfies either finishes with zero iterations.
func Run[S, C any](e Engine[S, C], s0 S, ctx C, p Params) Result[S] {
	s := s0
	for i := 0; ; i++ {
		switch {
		case e.HasConverged(s, p):
			return Result[S]{Outcome: OutcomeConverged, Iterations: i, Magnitude: e.Magnitude(s), State: s}
		case e.HasEscaped(s, p):
			return Result[S]{Outcome: OutcomeEscaped, Iterations: i, Magnitude: e.Magnitude(s), State: s}
		case i >= p.MaxIterations:
			return Result[S]{Outcome: OutcomeInconclusive, Iterations: i, Magnitude: e.Magnitude(s), State: s}
		}
		s = e.Iterate(s, ctx, p)
	}
}

// Err returns a *NonConvergentError for inconclusive results and nil otherwise.
func (r Result[S]) Err() error {
	if r.Outcome != OutcomeInconclusive {
		return nil
	}
	return &NonConvergentError{Iterations: r.Iterations, Magnitude: r.Magnitude}
}

// NonConvergentError is the error form of an inconclusive run, for callers
// that prefer to propagate it.
type NonConvergentError struct {
	Iterations int
	Magnitude  float64
}

func (e *NonConvergentError) Error() string {
	return fmt.Sprintf("no convergence after %d iterations (magnitude %.4g)", e.Iterations, e.Magnitude)
}

// StabilityScore maps a result to [0,1]. Fast convergence scores near 1,
// escape scores 0, and inconclusive runs score at most 0.5, less the closer
// they ended to the escape bound.
func StabilityScore[S any](r Result[S], p Params) float64 {
	switch r.Outcome {
	case OutcomeConverged:
		return 1 - float64(r.Iterations)/float64(p.MaxIterations+1)
	case OutcomeEscaped:
		return 0
	default:
		if p.EscapeBound <= 0 {
			return 0.5
		}
		return 0.5 * (1 - math.Min(r.Magnitude/p.EscapeBound, 1))
	}
}
