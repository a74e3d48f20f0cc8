package dynamics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepDeterministic(t *testing.T) {
	p := DefaultParams()
	in := Inputs{Complexity: 0.5, Drift: [3]float64{0.1, -0.2, 0.05}}

	a := Step(Initial(), 0.125, in, p)
	b := Step(Initial(), 0.125, in, p)
	assert.Equal(t, a, b)
}

func TestStepBounds(t *testing.T) {
	p := DefaultParams()
	state := Initial()

	// Hammer the system with extreme inputs; E, I, S must stay in [0,1].
	in := Inputs{Complexity: 5.0, Drift: [3]float64{10, 10, 10}}
	for i := 0; i < 200; i++ {
		state = Step(state, 0.3, in, p)
		require.GreaterOrEqual(t, state.E, 0.0)
		require.LessOrEqual(t, state.E, 1.0)
		require.GreaterOrEqual(t, state.I, 0.0)
		require.LessOrEqual(t, state.I, 1.0)
		require.GreaterOrEqual(t, state.S, 0.0)
		require.LessOrEqual(t, state.S, 1.0)
	}
}

func TestCoherenceGaussian(t *testing.T) {
	assert.InDelta(t, 1.0, Coherence(0, 0.1), 1e-12)
	assert.InDelta(t, math.Exp(-0.5), Coherence(0.1, 0.1), 1e-12)
	assert.Less(t, Coherence(0.3, 0.1), 0.05)
	// Symmetry in V.
	assert.Equal(t, Coherence(0.2, 0.1), Coherence(-0.2, 0.1))
}

func TestStepCoherenceInvariant(t *testing.T) {
	p := DefaultParams()
	state := Initial()
	in := Inputs{Complexity: 0.4, Drift: [3]float64{0.5, 0, 0}}
	for i := 0; i < 50; i++ {
		state = Step(state, 0.125, in, p)
		require.InDelta(t, Coherence(state.V, p.Sigma), state.Coherence, 1e-12)
	}
}

func TestComplexityRaisesEntropy(t *testing.T) {
	p := DefaultParams()

	low, high := Initial(), Initial()
	var lowSum, highSum float64
	for i := 0; i < 10; i++ {
		low = Step(low, 0.125, Inputs{Complexity: 0.1}, p)
		high = Step(high, 0.125, Inputs{Complexity: 0.9}, p)
		lowSum += low.S
		highSum += high.S
	}

	// The S2 scenario: complexity 0.9 vs 0.1 separates mean entropy by at
	// least 0.05 under default parameters.
	assert.Greater(t, highSum/10-lowSum/10, 0.05)
}

func TestDriftRaisesEntropyAndVoid(t *testing.T) {
	p := DefaultParams()
	calm, driven := Initial(), Initial()
	in := Inputs{Complexity: 0.5, Drift: [3]float64{3, 3, 3}}

	for i := 0; i < 60; i++ {
		calm = Step(calm, 0.125, Inputs{Complexity: 0.5}, p)
		driven = Step(driven, 0.125, in, p)
	}
	// Sustained drift saturates entropy and pushes E ahead of I during the
	// transient, leaving a positive void integral behind.
	assert.Greater(t, driven.S, 0.9)
	assert.Greater(t, driven.V, 0.03)
	assert.Greater(t, driven.V, calm.V)
	assert.Less(t, driven.Coherence, 1.0)
}

func TestLargeVoidKillsCoherence(t *testing.T) {
	// A state whose void integral sits beyond the critical band decays only
	// slowly; coherence stays critical for many steps.
	p := DefaultParams()
	state := Initial()
	state.V = 0.5
	state.Coherence = Coherence(state.V, p.Sigma)
	require.Less(t, state.Coherence, 0.40)

	state = Step(state, 0.125, Inputs{Complexity: 0.2}, p)
	assert.Greater(t, math.Abs(state.V), 0.15)
	assert.Less(t, state.Coherence, 0.40)
}

func TestZeroDriftKeepsVoidSmall(t *testing.T) {
	p := DefaultParams()
	state := Initial()
	for i := 0; i < 100; i++ {
		state = Step(state, 0.125, Inputs{Complexity: 0.3}, p)
	}
	assert.Less(t, math.Abs(state.V), 0.15)
	assert.Greater(t, state.Coherence, 0.40)
}

func TestComplexityClippedBeforeUse(t *testing.T) {
	p := DefaultParams()
	a := Step(Initial(), 0.125, Inputs{Complexity: 1.0}, p)
	b := Step(Initial(), 0.125, Inputs{Complexity: 37.0}, p)
	assert.Equal(t, a, b)
}

func TestDriftNormSq(t *testing.T) {
	in := Inputs{Drift: [3]float64{1, 2, 2}}
	assert.InDelta(t, 9.0, in.DriftNormSq(), 1e-12)
	assert.Zero(t, Inputs{}.DriftNormSq())
}

func TestControllerDue(t *testing.T) {
	c := DefaultController()
	assert.False(t, c.Due(10), "inside warm-up")
	assert.False(t, c.Due(100), "warm-up boundary is exclusive")
	assert.True(t, c.Due(110))
	assert.False(t, c.Due(111))
	assert.True(t, c.Due(200))
}

func TestControllerAdjustDirection(t *testing.T) {
	c := DefaultController()

	// Coherence below target: error positive, lambda1 rises.
	low := []float64{0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3}
	next, integral := c.Adjust(0.125, 0, low)
	assert.Greater(t, next, 0.125)
	assert.Greater(t, integral, 0.0)

	// Coherence above target: lambda1 falls, clipped at the floor.
	high := []float64{0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.99}
	next, _ = c.Adjust(0.125, 0, high)
	assert.Equal(t, c.LambdaMin, next)
}

func TestControllerClipsWithoutIntegralReset(t *testing.T) {
	c := DefaultController()
	lambda, integral := 0.125, 0.0

	low := []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	for i := 0; i < 10; i++ {
		lambda, integral = c.Adjust(lambda, integral, low)
	}
	assert.Equal(t, c.LambdaMax, lambda)
	// Antiwindup is by output clipping only; the integral keeps growing.
	assert.InDelta(t, 10*(c.Target-0.1), integral, 1e-9)
}

func TestControllerUsesLastWindow(t *testing.T) {
	c := DefaultController()
	history := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		history = append(history, 0.1)
	}
	for i := 0; i < 10; i++ {
		history = append(history, c.Target)
	}
	// Last 10 samples sit exactly on target: no movement.
	next, integral := c.Adjust(0.125, 0, history)
	assert.InDelta(t, 0.125, next, 1e-12)
	assert.InDelta(t, 0.0, integral, 1e-12)
}

func TestControllerEmptyHistory(t *testing.T) {
	c := DefaultController()
	next, integral := c.Adjust(0.125, 0.5, nil)
	assert.Equal(t, 0.125, next)
	assert.Equal(t, 0.5, integral)
}
