package dynamics

import "math/cmplx"

// Quadratic is the map z ← z² + c over the complex plane.
// The context is the constant c.
type Quadratic struct{}

func (Quadratic) Iterate(z complex128, c complex128, _ Params) complex128 {
	return z*z + c
}

func (Quadratic) HasConverged(z complex128, p Params) bool {
	return cmplx.Abs(z) < p.Epsilon
}

func (Quadratic) HasEscaped(z complex128, p Params) bool {
	return cmplx.IsNaN(z) || cmplx.IsInf(z) || cmplx.Abs(z) > p.EscapeBound
}

func (Quadratic) Magnitude(z complex128) float64 {
	return cmplx.Abs(z)
}
