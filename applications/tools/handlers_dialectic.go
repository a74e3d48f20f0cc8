package tools

import (
	"context"

	"github.com/agentmesh/governance_layer/domain/dialectic"
	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
)

type requestReviewRequest struct {
	AgentID     string `json:"agent_id"`
	Reason      string `json:"reason"`
	DiscoveryID string `json:"discovery_id"`
	DisputeType string `json:"dispute_type"`
}

func (s *Service) handleRequestDialecticReview(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req requestReviewRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}
	if req.Reason == "" {
		return nil, goverrors.MissingParameter("reason")
	}
	sess, err := s.dialectic.RequestReview(ctx, inv.AgentID, req.Reason, req.DiscoveryID, req.DisputeType)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type statementRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (s *Service) handleSubmitThesis(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req statementRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, goverrors.MissingParameter("session_id")
	}
	if req.Content == "" {
		return nil, goverrors.MissingParameter("content")
	}
	return s.dialectic.SubmitThesis(ctx, req.SessionID, inv.AgentID, req.Content)
}

func (s *Service) handleSubmitAntithesis(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req statementRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, goverrors.MissingParameter("session_id")
	}
	if req.Content == "" {
		return nil, goverrors.MissingParameter("content")
	}
	return s.dialectic.SubmitAntithesis(ctx, req.SessionID, inv.AgentID, req.Content)
}

type synthesisRequest struct {
	AgentID    string   `json:"agent_id"`
	SessionID  string   `json:"session_id"`
	Content    string   `json:"content"`
	Agrees     bool     `json:"agrees"`
	Action     string   `json:"action"`
	Conditions []string `json:"conditions"`
	Notes      string   `json:"notes"`
}

func (s *Service) handleSubmitSynthesis(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req synthesisRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, goverrors.MissingParameter("session_id")
	}
	return s.dialectic.SubmitSynthesis(ctx, dialectic.SynthesisInput{
		SessionID:  req.SessionID,
		Author:     inv.AgentID,
		Content:    req.Content,
		Agrees:     req.Agrees,
		Action:     req.Action,
		Conditions: req.Conditions,
		Notes:      req.Notes,
	})
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Service) handleGetDialecticSession(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req sessionIDRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, goverrors.MissingParameter("session_id")
	}
	return s.dialectic.GetSession(req.SessionID)
}

type selfRecoveryRequest struct {
	AgentID string `json:"agent_id"`
	Thesis  string `json:"thesis"`
}

// handleSelfRecovery opens a self-recovery session and runs it straight to
// negotiating: the agent's thesis (or a default) followed by the server's
// canned antithesis. The agent completes it with submit_synthesis.
func (s *Service) handleSelfRecovery(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req selfRecoveryRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}

	sess, err := s.dialectic.RequestReview(ctx, inv.AgentID, "self recovery", "", "")
	if err != nil {
		return nil, err
	}
	if !sess.SelfRecovery {
		// A peer reviewer was available; hand the session back so the
		// normal protocol runs instead.
		return sess, nil
	}

	thesis := req.Thesis
	if thesis == "" {
		thesis = "Requesting self recovery based on current metrics."
	}
	return s.dialectic.SubmitThesis(ctx, sess.SessionID, inv.AgentID, thesis)
}
