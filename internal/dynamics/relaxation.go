package dynamics

import "math"

// RelaxState is the state of a Relaxation run.
type RelaxState struct {
	Value    float64
	Residual float64 // distance to the target after the last step
}

// RelaxTarget is the context of a Relaxation run.
type RelaxTarget struct {
	Target float64
	Rate   float64 // fraction of the gap closed per step; above 2 diverges
}

// Relaxation moves a scalar toward a target: v ← v + rate·(target − v).
// Used to settle trust scores toward observed reliability.
type Relaxation struct{}

// RelaxFrom builds the initial state for value relaxing toward t.
func RelaxFrom(value float64, t RelaxTarget) RelaxState {
	return RelaxState{Value: value, Residual: math.Abs(t.Target - value)}
}

func (Relaxation) Iterate(s RelaxState, t RelaxTarget, _ Params) RelaxState {
	v := s.Value + t.Rate*(t.Target-s.Value)
	return RelaxState{Value: v, Residual: math.Abs(t.Target - v)}
}

func (Relaxation) HasConverged(s RelaxState, p Params) bool {
	return s.Residual < p.Epsilon
}

func (Relaxation) HasEscaped(s RelaxState, p Params) bool {
	return math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || s.Residual > p.EscapeBound
}

func (Relaxation) Magnitude(s RelaxState) float64 {
	return s.Residual
}
