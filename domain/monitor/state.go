// Package monitor wraps the dynamics engine with per-agent histories, the
// adaptive controller, and the update classifier.
package monitor

import (
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// History holds the parallel per-update series. All arrays always share one
// length; in memory it equals the update count. Capping happens at
// serialization only, so a loaded state holds at most the last capped
// entries and can have fewer entries than its update count.
type History struct {
	E          []float64         `json:"E"`
	I          []float64         `json:"I"`
	S          []float64         `json:"S"`
	V          []float64         `json:"V"`
	Coherence  []float64         `json:"coherence"`
	Attention  []float64         `json:"attention"`
	Decision   []string          `json:"decision"`
	Lambda1    []float64         `json:"lambda1"`
	Timestamps []store.Timestamp `json:"timestamps"`
}

// Len returns the number of recorded updates.
func (h *History) Len() int {
	return len(h.E)
}

// Append records one update across every series.
func (h *History) Append(e, i, s, v, coherence, attention float64, decision string, lambda1 float64, at store.Timestamp) {
	h.E = append(h.E, e)
	h.I = append(h.I, i)
	h.S = append(h.S, s)
	h.V = append(h.V, v)
	h.Coherence = append(h.Coherence, coherence)
	h.Attention = append(h.Attention, attention)
	h.Decision = append(h.Decision, decision)
	h.Lambda1 = append(h.Lambda1, lambda1)
	h.Timestamps = append(h.Timestamps, at)
}

// Capped returns a copy trimmed to the last capN entries per series.
func (h *History) Capped(capN int) History {
	if capN <= 0 || h.Len() <= capN {
		return h.clone()
	}
	start := h.Len() - capN
	return History{
		E:          append([]float64(nil), h.E[start:]...),
		I:          append([]float64(nil), h.I[start:]...),
		S:          append([]float64(nil), h.S[start:]...),
		V:          append([]float64(nil), h.V[start:]...),
		Coherence:  append([]float64(nil), h.Coherence[start:]...),
		Attention:  append([]float64(nil), h.Attention[start:]...),
		Decision:   append([]string(nil), h.Decision[start:]...),
		Lambda1:    append([]float64(nil), h.Lambda1[start:]...),
		Timestamps: append([]store.Timestamp(nil), h.Timestamps[start:]...),
	}
}

func (h *History) clone() History {
	return History{
		E:          append([]float64(nil), h.E...),
		I:          append([]float64(nil), h.I...),
		S:          append([]float64(nil), h.S...),
		V:          append([]float64(nil), h.V...),
		Coherence:  append([]float64(nil), h.Coherence...),
		Attention:  append([]float64(nil), h.Attention...),
		Decision:   append([]string(nil), h.Decision...),
		Lambda1:    append([]float64(nil), h.Lambda1...),
		Timestamps: append([]store.Timestamp(nil), h.Timestamps...),
	}
}

// TailMean returns the mean of the last n entries of series, or fallback
// when the series is empty.
func TailMean(series []float64, n int, fallback float64) float64 {
	if len(series) == 0 {
		return fallback
	}
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// State is the per-agent thermodynamic state persisted to
// data/agents/<id>_state.json.
type State struct {
	AgentID     string  `json:"agent_id"`
	E           float64 `json:"E"`
	I           float64 `json:"I"`
	S           float64 `json:"S"`
	V           float64 `json:"V"`
	Coherence   float64 `json:"coherence"`
	Lambda1     float64 `json:"lambda1"`
	Time        float64 `json:"time"`
	UpdateCount int     `json:"update_count"`
	PIIntegral  float64 `json:"pi_integral"`
	// VoidAdaptive is the live void threshold; starts at the configured
	// initial value and adapts after warm-up.
	VoidAdaptive float64 `json:"void_adaptive"`
	History      History `json:"history"`
}

// Capped returns a serialization-ready copy with trimmed histories.
func (s *State) Capped(capN int) State {
	out := *s
	out.History = s.History.Capped(capN)
	return out
}

// Clone deep-copies the state, histories included.
func (s *State) Clone() *State {
	out := *s
	out.History = s.History.clone()
	return &out
}
