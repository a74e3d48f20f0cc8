package tools

import (
	"context"
	"strings"

	"github.com/agentmesh/governance_layer/domain/registry"
	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
)

type apiKeyRequest struct {
	AgentID  string `json:"agent_id"`
	ForceNew bool   `json:"force_new"`
}

func (s *Service) handleGetAgentAPIKey(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req apiKeyRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, goverrors.MissingParameter("agent_id")
	}

	if s.registry.Exists(req.AgentID) {
		if !req.ForceNew {
			return map[string]interface{}{
				"is_new":  false,
				"message": "agent already registered; pass force_new with the current api_key to rotate",
			}, nil
		}
		// Rotation requires proof of the current key.
		if err := s.registry.CheckKey(req.AgentID, inv.APIKey); err != nil {
			return nil, err
		}
		key, err := s.registry.RotateKey(ctx, req.AgentID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"api_key": key, "is_new": false, "rotated": true}, nil
	}

	key, isNew, err := s.registry.EnsureAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"api_key": key, "is_new": isNew}, nil
}

type listAgentsRequest struct {
	RecentDays *int   `json:"recent_days"`
	Status     string `json:"status"`
	NamedOnly  bool   `json:"named_only"`
	Limit      *int   `json:"limit"`
}

type agentSummary struct {
	AgentID      string   `json:"agent_id"`
	Status       string   `json:"status"`
	TotalUpdates int      `json:"total_updates"`
	LastUpdateAt string   `json:"last_update_at,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

func (s *Service) handleListAgents(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req listAgentsRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}

	filter := registry.ListFilter{RecentDays: 7, Limit: 20}
	if req.RecentDays != nil {
		filter.RecentDays = *req.RecentDays
	}
	if req.Limit != nil {
		filter.Limit = *req.Limit
	}
	filter.NamedOnly = req.NamedOnly
	if req.Status != "" {
		filter.Status = registry.Status(req.Status)
	}

	agents := s.registry.List(filter)
	out := make([]agentSummary, 0, len(agents))
	for _, meta := range agents {
		summary := agentSummary{
			AgentID:      meta.AgentID,
			Status:       string(meta.Status),
			TotalUpdates: meta.TotalUpdates,
			Tags:         meta.Tags,
		}
		if !meta.LastUpdateAt.IsZero() {
			summary.LastUpdateAt = meta.LastUpdateAt.UTC().Format("2006-01-02T15:04:05")
		}
		out = append(out, summary)
	}
	return map[string]interface{}{"agents": out, "count": len(out)}, nil
}

type agentIDRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Service) handleGetAgentMetadata(ctx context.Context, inv *Invocation) (interface{}, error) {
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
	// The key hash never leaves the server.
	meta.APIKeyHash = ""
	return meta, nil
}

type updateMetadataRequest struct {
	AgentID   string   `json:"agent_id"`
	Tags      []string `json:"tags"`
	Notes     *string  `json:"notes"`
	NotesMode string   `json:"notes_mode"` // append | replace
}

func (s *Service) handleUpdateAgentMetadata(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req updateMetadataRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}
	if req.NotesMode == "" {
		req.NotesMode = "append"
	}
	if req.NotesMode != "append" && req.NotesMode != "replace" {
		return nil, goverrors.InvalidInput("notes_mode", "must be append or replace")
	}

	err := s.registry.Mutate(ctx, inv.AgentID, false, func(meta *registry.AgentMeta) error {
		if req.Tags != nil {
			// The pioneer tag survives any tag rewrite.
			pioneer := meta.IsPioneer()
			meta.Tags = req.Tags
			if pioneer && !meta.IsPioneer() {
				meta.Tags = append(meta.Tags, registry.PioneerTag)
			}
		}
		if req.Notes != nil {
			if req.NotesMode == "replace" || meta.Notes == "" {
				meta.Notes = *req.Notes
			} else {
				meta.Notes = meta.Notes + "\n" + *req.Notes
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	meta, err := s.registry.Get(inv.AgentID)
	if err != nil {
		return nil, err
	}
	meta.APIKeyHash = ""
	return meta, nil
}

type archiveAgentRequest struct {
	AgentID      string `json:"agent_id"`
	Reason       string `json:"reason"`
	KeepInMemory bool   `json:"keep_in_memory"`
}

func (s *Service) handleArchiveAgent(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req archiveAgentRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = "archived by request"
	}
	if err := s.registry.Transition(ctx, inv.AgentID, registry.StatusArchived, "archived", reason); err != nil {
		return nil, err
	}
	if !req.KeepInMemory {
		s.dropMonitor(inv.AgentID)
	}
	return map[string]interface{}{"agent_id": inv.AgentID, "status": string(registry.StatusArchived)}, nil
}

type deleteAgentRequest struct {
	AgentID     string `json:"agent_id"`
	Confirm     bool   `json:"confirm"`
	BackupFirst bool   `json:"backup_first"`
}

func (s *Service) handleDeleteAgent(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req deleteAgentRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}
	if !req.Confirm {
		return nil, goverrors.InvalidInput("confirm", "deletion requires confirm=true")
	}
	if err := s.registry.Delete(ctx, inv.AgentID, req.BackupFirst); err != nil {
		return nil, err
	}
	s.dropMonitor(inv.AgentID)
	return map[string]interface{}{"agent_id": inv.AgentID, "deleted": true, "backed_up": req.BackupFirst}, nil
}

type markCompleteRequest struct {
	AgentID string `json:"agent_id"`
	Summary string `json:"summary"`
}

func (s *Service) handleMarkResponseComplete(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req markCompleteRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}

	meta, err := s.registry.Get(inv.AgentID)
	if err != nil {
		return nil, err
	}
	if meta.Status != registry.StatusActive && meta.Status != registry.StatusWaitingInput {
		return nil, goverrors.StatusConflict(inv.AgentID, string(meta.Status), "active or waiting_input")
	}

	reason := strings.TrimSpace(req.Summary)
	if err := s.registry.Transition(ctx, inv.AgentID, registry.StatusWaitingInput, "response_complete", reason); err != nil {
		return nil, err
	}
	return map[string]interface{}{"agent_id": inv.AgentID, "status": string(registry.StatusWaitingInput)}, nil
}

func (s *Service) handleDirectResumeIfSafe(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req agentIDRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if err := requireSelf(inv, req.AgentID); err != nil {
		return nil, err
	}

	meta, err := s.registry.Get(inv.AgentID)
	if err != nil {
		return nil, err
	}
	if meta.Status != registry.StatusPaused {
		return nil, goverrors.StatusConflict(inv.AgentID, string(meta.Status), string(registry.StatusPaused))
	}

	mon, err := s.getMonitor(inv.AgentID)
	if err != nil {
		return nil, err
	}
	st := mon.State()
	th := s.Thresholds()

	coherenceOK := st.Coherence >= th.CoherenceCritical
	attentionOK := mon.CurrentAttention() < th.RiskRevise
	voidOK := absFloat(st.V) <= st.VoidAdaptive

	if !coherenceOK || !attentionOK || !voidOK {
		return nil, goverrors.StatusConflict(inv.AgentID, string(registry.StatusPaused), "safe metrics").
			WithDetails("coherence", st.Coherence).
			WithDetails("attention", mon.CurrentAttention()).
			WithDetails("in_void", !voidOK).
			WithRecovery("metrics are not in the safe band; use the dialectic protocol", "request_dialectic_review")
	}

	if err := s.registry.Transition(ctx, inv.AgentID, registry.StatusActive, "resumed (direct)", "tier-1 safe resume"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"agent_id":  inv.AgentID,
		"status":    string(registry.StatusActive),
		"coherence": st.Coherence,
	}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
