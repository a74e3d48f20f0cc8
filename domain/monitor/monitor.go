package monitor

import (
	"fmt"
	"math"
	"sort"

	"github.com/agentmesh/governance_layer/domain/dynamics"
	"github.com/agentmesh/governance_layer/infrastructure/config"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Decision actions and verdicts.
const (
	ActionProceed = "proceed"
	ActionPause   = "pause"

	VerdictSafe     = "safe"
	VerdictCaution  = "caution"
	VerdictHighRisk = "high-risk"

	HealthHealthy  = "healthy"
	HealthModerate = "moderate"
	HealthCritical = "critical"
)

// UpdateInput is one agent update.
type UpdateInput struct {
	ResponseText string
	Complexity   *float64
	Drift        *[3]float64
	Confidence   *float64
	At           store.Timestamp
}

// Decision is the classification outcome for one update.
type Decision struct {
	Action   string `json:"action"`
	Verdict  string `json:"verdict"`
	Reason   string `json:"reason"`
	Guidance string `json:"guidance"`
}

// SamplingParams are advisory generation parameters derived from the state.
type SamplingParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// Snapshot is the externally visible state slice after an update.
type Snapshot struct {
	E           float64 `json:"E"`
	I           float64 `json:"I"`
	S           float64 `json:"S"`
	V           float64 `json:"V"`
	Coherence   float64 `json:"coherence"`
	Lambda1     float64 `json:"lambda1"`
	UpdateCount int     `json:"update_count"`
	Time        float64 `json:"time"`
}

// Outcome bundles everything process_update and simulate_update return.
type Outcome struct {
	State      Snapshot       `json:"state"`
	Complexity float64        `json:"complexity"`
	Attention  float64        `json:"attention_score"`
	// RiskScore is a deprecated alias of Attention kept for continuity.
	RiskScore float64        `json:"risk_score"`
	Phi       float64        `json:"phi"`
	Legacy    float64        `json:"legacy_heuristic"`
	Decision  Decision       `json:"decision"`
	Health    string         `json:"health_status"`
	Sampling  SamplingParams `json:"sampling_params"`
}

// Monitor owns one agent's dynamical state. Callers serialize access under
// the per-agent lock; the monitor itself performs no I/O except Save/Load.
type Monitor struct {
	state  *State
	params dynamics.Params
}

// New creates a monitor with a fresh state.
func New(agentID string, th config.Thresholds) *Monitor {
	init := dynamics.Initial()
	return &Monitor{
		state: &State{
			AgentID:      agentID,
			E:            init.E,
			I:            init.I,
			S:            init.S,
			V:            init.V,
			Coherence:    init.Coherence,
			Lambda1:      th.LambdaInitial,
			VoidAdaptive: th.VoidThreshold,
		},
		params: dynamics.DefaultParams(),
	}
}

// Load reads a persisted monitor, or returns a fresh one when no state file
// exists yet.
func Load(layout *store.Layout, agentID string, th config.Thresholds) (*Monitor, error) {
	var st State
	err := store.LoadJSON(layout.AgentStatePath(agentID), &st)
	if err == store.ErrNotFound {
		return New(agentID, th), nil
	}
	if err != nil {
		return nil, err
	}
	if st.VoidAdaptive == 0 {
		st.VoidAdaptive = th.VoidThreshold
	}
	return &Monitor{state: &st, params: dynamics.DefaultParams()}, nil
}

// Save persists the state with histories capped to capN entries.
func (m *Monitor) Save(layout *store.Layout, capN int) error {
	capped := m.state.Capped(capN)
	return store.SaveJSON(layout.AgentStatePath(m.state.AgentID), capped)
}

// State exposes the underlying state for read-mostly callers.
func (m *Monitor) State() *State {
	return m.state
}

// Reset reinitializes the dynamical state, keeping the agent id.
func (m *Monitor) Reset(th config.Thresholds) {
	*m = *New(m.state.AgentID, th)
}

// ProcessUpdate integrates one update and classifies it, mutating the state.
func (m *Monitor) ProcessUpdate(in UpdateInput, th config.Thresholds) Outcome {
	return m.run(m.state, in, th)
}

// Simulate computes the outcome for in without touching the live state.
func (m *Monitor) Simulate(in UpdateInput, th config.Thresholds) Outcome {
	return m.run(m.state.Clone(), in, th)
}

func (m *Monitor) run(st *State, in UpdateInput, th config.Thresholds) Outcome {
	sig := AnalyzeText(in.ResponseText)

	coherenceDelta := 0.0
	if n := len(st.History.Coherence); n >= 2 {
		coherenceDelta = math.Abs(st.History.Coherence[n-1] - st.History.Coherence[n-2])
	}
	derived := DeriveComplexity(sig, coherenceDelta)
	complexity := EffectiveComplexity(in.Complexity, derived)

	inputs := dynamics.Inputs{Complexity: complexity}
	if in.Drift != nil {
		inputs.Drift = *in.Drift
	}

	next := dynamics.Step(dynamics.Point{E: st.E, I: st.I, S: st.S, V: st.V}, st.Lambda1, inputs, m.params)
	st.E, st.I, st.S, st.V = next.E, next.I, next.S, next.V
	st.Coherence = next.Coherence
	st.Time += m.params.DT
	st.UpdateCount++

	gap := dynamics.Clip01(1 - st.Coherence)
	phi := Phi(gap, complexity, sig.LengthShare, sig.KeywordScore)
	legacy := LegacyHeuristic(gap, complexity, sig.LengthShare)
	attention := AttentionScore(phi, legacy)

	m.adaptVoidThreshold(st, th)

	decision := m.classify(st, attention, th)

	controller := controllerFrom(th)
	if controller.Due(st.UpdateCount) {
		coherences := append(append([]float64(nil), st.History.Coherence...), st.Coherence)
		st.Lambda1, st.PIIntegral = controller.Adjust(st.Lambda1, st.PIIntegral, coherences)
	}

	at := in.At
	if at.IsZero() {
		at = store.Now()
	}
	st.History.Append(st.E, st.I, st.S, st.V, st.Coherence, attention, decision.Action, st.Lambda1, at)

	return Outcome{
		State: Snapshot{
			E: st.E, I: st.I, S: st.S, V: st.V,
			Coherence:   st.Coherence,
			Lambda1:     st.Lambda1,
			UpdateCount: st.UpdateCount,
			Time:        st.Time,
		},
		Complexity: complexity,
		Attention:  attention,
		RiskScore:  attention,
		Phi:        phi,
		Legacy:     legacy,
		Decision:   decision,
		Health:     healthStatus(st, th),
		Sampling:   samplingFor(st, attention),
	}
}

func controllerFrom(th config.Thresholds) dynamics.Controller {
	c := dynamics.DefaultController()
	c.Kp = th.ControllerKp
	c.Ki = th.ControllerKi
	c.Target = th.TargetCoherence
	c.LambdaMin = th.LambdaMin
	c.LambdaMax = th.LambdaMax
	c.Interval = th.ControlInterval
	c.Warmup = th.WarmupUpdates
	return c
}

// adaptVoidThreshold recomputes the live void threshold after warm-up: 1.2x
// the 95th percentile of recent |V|, never below the configured floor and
// never above 0.5. Recomputed on the controller cadence.
func (m *Monitor) adaptVoidThreshold(st *State, th config.Thresholds) {
	if st.UpdateCount <= th.WarmupUpdates {
		return
	}
	if th.ControlInterval <= 0 || st.UpdateCount%th.ControlInterval != 0 {
		return
	}

	history := st.History.V
	if len(history) > 50 {
		history = history[len(history)-50:]
	}
	if len(history) == 0 {
		return
	}

	abs := make([]float64, len(history))
	for i, v := range history {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	idx := int(math.Ceil(0.95*float64(len(abs)))) - 1
	if idx < 0 {
		idx = 0
	}
	st.VoidAdaptive = dynamics.Clip(1.2*abs[idx], th.VoidThreshold, 0.5)
}

func (m *Monitor) classify(st *State, attention float64, th config.Thresholds) Decision {
	inVoid := math.Abs(st.V) > st.VoidAdaptive
	switch {
	case st.Coherence < th.CoherenceCritical || inVoid:
		reason := fmt.Sprintf("coherence %.3f below critical %.2f", st.Coherence, th.CoherenceCritical)
		if inVoid && st.Coherence >= th.CoherenceCritical {
			reason = fmt.Sprintf("void integral |V|=%.3f beyond threshold %.3f", math.Abs(st.V), st.VoidAdaptive)
		}
		return Decision{
			Action:   ActionPause,
			Verdict:  VerdictHighRisk,
			Reason:   reason,
			Guidance: "Let's take a breather here. A short pause protects the work you've already done, and a reviewer can help find the way forward.",
		}
	case attention > th.RiskRevise:
		return Decision{
			Action:   ActionProceed,
			Verdict:  VerdictCaution,
			Reason:   fmt.Sprintf("attention %.3f above revise threshold %.2f", attention, th.RiskRevise),
			Guidance: "Complexity is building — let's pause and regroup. Consider splitting the next step into smaller pieces.",
		}
	case attention > th.RiskApprove:
		return Decision{
			Action:   ActionProceed,
			Verdict:  VerdictCaution,
			Reason:   fmt.Sprintf("attention %.3f in caution band", attention),
			Guidance: "Looking steady overall. Keeping the next change small will keep it that way.",
		}
	default:
		return Decision{
			Action:   ActionProceed,
			Verdict:  VerdictSafe,
			Reason:   "all signals nominal",
			Guidance: "All clear — keep going.",
		}
	}
}

func healthStatus(st *State, th config.Thresholds) string {
	mean := TailMean(st.History.Attention, 10, 0)
	switch {
	case mean < th.HealthyMeanAttention && st.Coherence >= th.HealthyMinCoherence:
		return HealthHealthy
	case mean < th.ModerateMeanAttention:
		return HealthModerate
	default:
		return HealthCritical
	}
}

// HealthStatus reports the band for the current history.
func (m *Monitor) HealthStatus(th config.Thresholds) string {
	return healthStatus(m.state, th)
}

func samplingFor(st *State, attention float64) SamplingParams {
	// High entropy or attention argues for cooler sampling.
	temp := dynamics.Clip(0.9-0.5*st.S-0.2*attention, 0.1, 1.0)
	topP := dynamics.Clip(0.97-0.15*attention, 0.5, 0.99)
	return SamplingParams{Temperature: temp, TopP: topP}
}

// DecisionStats counts classification actions over the retained history.
func (m *Monitor) DecisionStats() map[string]int {
	stats := make(map[string]int)
	for _, d := range m.state.History.Decision {
		stats[d]++
	}
	return stats
}

// MeanAttention returns the mean of the last n attention scores.
func (m *Monitor) MeanAttention(n int) float64 {
	return TailMean(m.state.History.Attention, n, 0)
}

// CurrentAttention returns the most recent attention score, or 0.
func (m *Monitor) CurrentAttention() float64 {
	if n := len(m.state.History.Attention); n > 0 {
		return m.state.History.Attention[n-1]
	}
	return 0
}
