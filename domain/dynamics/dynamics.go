// Package dynamics integrates the four coupled governance ODEs and adapts
// the lambda1 entropy coupling through a PI controller. Everything here is
// pure: no I/O, no clocks, deterministic modulo floating point.
package dynamics

import "math"

// Params carries the model constants.
type Params struct {
	Alpha   float64 // E relaxation toward I
	BetaE   float64 // entropy drag on E
	GammaE  float64 // drift forcing on E
	K       float64 // entropy drag on I
	BetaI   float64 // coherence support of I
	GammaI  float64 // logistic decay of I
	Mu      float64 // entropy decay
	Lambda2 float64 // coherence relief of S
	BetaC   float64 // complexity forcing of S
	Kappa   float64 // E-I imbalance driving V
	Delta   float64 // V decay
	Sigma   float64 // coherence width
	DT      float64 // Euler step
}

// DefaultParams returns the standard constants.
func DefaultParams() Params {
	return Params{
		Alpha:   0.4,
		BetaE:   0.1,
		GammaE:  0.05,
		K:       0.1,
		BetaI:   0.3,
		GammaI:  0.25,
		Mu:      0.8,
		Lambda2: 0.1,
		BetaC:   0.15,
		Kappa:   0.3,
		Delta:   0.4,
		Sigma:   0.1,
		DT:      0.1,
	}
}

// Point is one integration state.
type Point struct {
	E         float64
	I         float64
	S         float64
	V         float64
	Coherence float64
}

// Initial returns the state a fresh agent starts from.
func Initial() Point {
	p := Point{E: 0.7, I: 0.7, S: 0.2, V: 0.0}
	p.Coherence = Coherence(p.V, DefaultParams().Sigma)
	return p
}

// Inputs are the per-update forcings.
type Inputs struct {
	// Complexity is clipped to [0,1] before use.
	Complexity float64
	// Drift is the externally observed 3-vector deviation; zero by default.
	Drift [3]float64
}

// DriftNormSq returns the squared magnitude of the drift vector.
func (in Inputs) DriftNormSq() float64 {
	return in.Drift[0]*in.Drift[0] + in.Drift[1]*in.Drift[1] + in.Drift[2]*in.Drift[2]
}

// Coherence is the Gaussian C(V) = exp(-V^2 / (2 sigma^2)).
func Coherence(v, sigma float64) float64 {
	if sigma == 0 {
		if v == 0 {
			return 1
		}
		return 0
	}
	return math.Exp(-(v * v) / (2 * sigma * sigma))
}

// Clip01 bounds x to [0,1].
func Clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Clip bounds x to [lo,hi].
func Clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Step advances the system one Euler step. E, I, S are clipped to [0,1];
// V is left unclipped; Coherence is recomputed from the new V.
func Step(prev Point, lambda1 float64, in Inputs, p Params) Point {
	complexity := Clip01(in.Complexity)
	driftSq := in.DriftNormSq()
	c := Coherence(prev.V, p.Sigma)

	dE := p.Alpha*(prev.I-prev.E) - p.BetaE*prev.E*prev.S + p.GammaE*prev.E*driftSq
	dI := -p.K*prev.S + p.BetaI*prev.I*c - p.GammaI*prev.I*(1-prev.I)
	dS := -p.Mu*prev.S + lambda1*driftSq - p.Lambda2*c + p.BetaC*complexity
	dV := p.Kappa*(prev.E-prev.I) - p.Delta*prev.V

	next := Point{
		E: Clip01(prev.E + p.DT*dE),
		I: Clip01(prev.I + p.DT*dI),
		S: Clip01(prev.S + p.DT*dS),
		V: prev.V + p.DT*dV,
	}
	next.Coherence = Coherence(next.V, p.Sigma)
	return next
}
