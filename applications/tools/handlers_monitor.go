package tools

import (
	"context"

	"github.com/agentmesh/governance_layer/domain/knowledge"
	"github.com/agentmesh/governance_layer/domain/monitor"
	"github.com/agentmesh/governance_layer/domain/registry"
	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
)

type updateRequest struct {
	AgentID      string      `json:"agent_id"`
	ResponseText string      `json:"response_text"`
	Complexity   *float64    `json:"complexity"`
	Drift        *[3]float64 `json:"drift"`
	Confidence   *float64    `json:"confidence"`
}

func (r *updateRequest) toInput() monitor.UpdateInput {
	return monitor.UpdateInput{
		ResponseText: r.ResponseText,
		Complexity:   r.Complexity,
		Drift:        r.Drift,
		Confidence:   r.Confidence,
	}
}

// handleProcessUpdate is the core update path: lifecycle gates, loop
// detection, integration under the agent lock, persistence, and the
// decision response with surfaced discoveries.
func (s *Service) handleProcessUpdate(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req updateRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}
	if len(req.ResponseText) > s.cfg.Limits.MaxResponseBytes {
		return nil, goverrors.TextTooLong(s.cfg.Limits.MaxResponseBytes)
	}

	meta, err := s.registry.Get(inv.AgentID)
	if err != nil {
		return nil, err
	}

	autoResumed := false
	switch meta.Status {
	case registry.StatusActive:
	case registry.StatusArchived:
		// Archived agents wake on any update.
		if err := s.registry.Transition(ctx, inv.AgentID, registry.StatusActive, "resumed (auto)", "update after archive"); err != nil {
			return nil, err
		}
		autoResumed = true
	case registry.StatusWaitingInput:
		if err := s.registry.Transition(ctx, inv.AgentID, registry.StatusActive, "resumed (input)", "update after waiting_input"); err != nil {
			return nil, err
		}
	case registry.StatusPaused:
		return nil, goverrors.StatusConflict(inv.AgentID, string(meta.Status), string(registry.StatusActive)).
			WithRecovery("the agent is paused; recover through the dialectic protocol or a tier-1 resume",
				"request_dialectic_review", "direct_resume_if_safe")
	case registry.StatusDeleted:
		return nil, goverrors.StatusConflict(inv.AgentID, string(meta.Status), string(registry.StatusActive))
	}

	now := nowStamp()
	// Loop detection runs before any integration; a rejected update leaves
	// no history entry.
	if err := s.registry.CheckLoop(ctx, inv.AgentID, now); err != nil {
		return nil, err
	}

	guard, err := s.locks.Acquire(ctx, locking.AgentLock(inv.AgentID))
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	mon, err := s.getMonitor(inv.AgentID)
	if err != nil {
		return nil, err
	}

	th := s.Thresholds()
	input := req.toInput()
	input.At = now
	outcome := mon.ProcessUpdate(input, th)

	// The state file commits fully before metadata reflects the update.
	if err := mon.Save(s.layout, s.cfg.Data.HistoryCap); err != nil {
		return nil, err
	}

	paused := outcome.Decision.Action == monitor.ActionPause
	if err := s.registry.Mutate(ctx, inv.AgentID, false, func(m *registry.AgentMeta) error {
		m.RecordUpdate(now)
		m.RecordDecision(outcome.Decision.Action)
		// The state file is authoritative for the logical update count.
		m.TotalUpdates = mon.State().UpdateCount
		return nil
	}); err != nil {
		return nil, err
	}

	if paused {
		if err := s.registry.Transition(ctx, inv.AgentID, registry.StatusPaused, "paused", outcome.Decision.Reason); err != nil {
			return nil, err
		}
	}
	s.metrics.RecordDecision(outcome.Decision.Action, outcome.Decision.Verdict)
	s.logger.LogDecision(ctx, inv.AgentID, outcome.Decision.Action, outcome.Decision.Verdict, outcome.Attention, outcome.State.Coherence)

	surfaced := s.graph.Relevance(inv.AgentID, meta.Tags, req.ResponseText, 3)

	resp := map[string]interface{}{
		"state":                outcome.State,
		"decision":             outcome.Decision,
		"attention_score":      outcome.Attention,
		"risk_score":           outcome.RiskScore,
		"phi":                  outcome.Phi,
		"complexity":           outcome.Complexity,
		"health_status":        outcome.Health,
		"sampling_params":      outcome.Sampling,
		"surfaced_discoveries": surfacedPayload(surfaced),
	}
	if autoResumed {
		resp["auto_resumed"] = true
	}
	if paused {
		resp["dialectic_offer"] = map[string]interface{}{
			"message":       "A reviewer can help work through this pause whenever you're ready.",
			"related_tools": []string{"request_dialectic_review", "direct_resume_if_safe"},
		}
	}
	return resp, nil
}

func surfacedPayload(results []knowledge.SimilarResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"id":       r.Discovery.ID,
			"agent_id": r.Discovery.AgentID,
			"type":     r.Discovery.Type,
			"summary":  r.Discovery.Summary,
			"severity": r.Discovery.Severity,
			"score":    r.Score,
		})
	}
	return out
}

func (s *Service) handleSimulateUpdate(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req updateRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, goverrors.MissingParameter("agent_id")
	}
	if len(req.ResponseText) > s.cfg.Limits.MaxResponseBytes {
		return nil, goverrors.TextTooLong(s.cfg.Limits.MaxResponseBytes)
	}
	if !s.registry.Exists(req.AgentID) {
		return nil, goverrors.AgentNotFound(req.AgentID)
	}

	mon, err := s.getMonitor(req.AgentID)
	if err != nil {
		return nil, err
	}
	outcome := mon.Simulate(req.toInput(), s.Thresholds())
	return map[string]interface{}{
		"state":           outcome.State,
		"decision":        outcome.Decision,
		"attention_score": outcome.Attention,
		"risk_score":      outcome.RiskScore,
		"simulated":       true,
	}, nil
}

func (s *Service) handleGetMetrics(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req agentIDRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, goverrors.MissingParameter("agent_id")
	}
	meta, err := s.registry.Get(req.AgentID)
	if err != nil {
		return nil, err
	}
	mon, err := s.getMonitor(req.AgentID)
	if err != nil {
		return nil, err
	}

	st := mon.State()
	th := s.Thresholds()
	verdict := monitor.VerdictSafe
	current := mon.CurrentAttention()
	switch {
	case st.Coherence < th.CoherenceCritical || absFloat(st.V) > st.VoidAdaptive:
		verdict = monitor.VerdictHighRisk
	case current > th.RiskApprove:
		verdict = monitor.VerdictCaution
	}

	return map[string]interface{}{
		"agent_id":            req.AgentID,
		"status":              string(meta.Status),
		"E":                   st.E,
		"I":                   st.I,
		"S":                   st.S,
		"V":                   st.V,
		"coherence":           st.Coherence,
		"lambda1":             st.Lambda1,
		"update_count":        st.UpdateCount,
		"attention":           current,
		"phi":                 current,
		"current_risk":        current,
		"mean_risk":           mon.MeanAttention(10),
		"verdict":             verdict,
		"health_status":       mon.HealthStatus(th),
		"void_threshold":      st.VoidAdaptive,
		"decision_statistics": mon.DecisionStats(),
	}, nil
}

func (s *Service) handleResetMonitor(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req agentIDRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}

	guard, err := s.locks.Acquire(ctx, locking.AgentLock(inv.AgentID))
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	mon, err := s.getMonitor(inv.AgentID)
	if err != nil {
		return nil, err
	}
	mon.Reset(s.Thresholds())
	if err := mon.Save(s.layout, s.cfg.Data.HistoryCap); err != nil {
		return nil, err
	}
	return map[string]interface{}{"agent_id": inv.AgentID, "reset": true}, nil
}
