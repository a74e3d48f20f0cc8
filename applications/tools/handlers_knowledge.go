package tools

import (
	"context"

	"github.com/agentmesh/governance_layer/domain/knowledge"
	"github.com/agentmesh/governance_layer/domain/registry"
	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
)

type storeKnowledgeRequest struct {
	AgentID            string   `json:"agent_id"`
	Type               string   `json:"type"`
	Summary            string   `json:"summary"`
	Details            string   `json:"details"`
	Severity           string   `json:"severity"`
	Tags               []string `json:"tags"`
	RelatedFiles       []string `json:"related_files"`
	RelatedDiscoveries []string `json:"related_discoveries"`
	CheckDuplicates    bool     `json:"check_duplicates"`
}

func (s *Service) handleStoreKnowledge(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req storeKnowledgeRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, goverrors.MissingParameter("agent_id")
	}
	if !s.registry.Exists(req.AgentID) {
		return nil, goverrors.AgentNotFound(req.AgentID)
	}

	d, warnings, err := s.graph.Store(ctx, knowledge.StoreInput{
		AgentID:            req.AgentID,
		Type:               req.Type,
		Summary:            req.Summary,
		Details:            req.Details,
		Severity:           req.Severity,
		Tags:               req.Tags,
		RelatedFiles:       req.RelatedFiles,
		RelatedDiscoveries: req.RelatedDiscoveries,
		Authenticated:      inv.Authenticated,
		CheckDuplicates:    req.CheckDuplicates,
	})
	if err != nil {
		return nil, err
	}

	// The store counts against the agent's sliding window.
	if err := s.registry.Mutate(ctx, req.AgentID, false, func(m *registry.AgentMeta) error {
		m.RecordStore(nowStamp())
		return nil
	}); err != nil {
		return nil, err
	}

	resp := map[string]interface{}{"discovery": d}
	if len(warnings) > 0 {
		resp["similar_warnings"] = warnings
	}
	return resp, nil
}

type searchKnowledgeRequest struct {
	AgentID   string   `json:"filter_agent_id"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	Severity  string   `json:"severity"`
	Status    string   `json:"status"`
	Text      string   `json:"text"`
	Limit     int      `json:"limit"`
	SortBy    string   `json:"sort_by"`
	SortOrder string   `json:"sort_order"`
}

func (s *Service) handleSearchKnowledge(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req searchKnowledgeRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	results := s.graph.Search(knowledge.Filters{
		AgentID:   req.AgentID,
		Type:      req.Type,
		Tags:      req.Tags,
		Severity:  req.Severity,
		Status:    req.Status,
		Text:      req.Text,
		Limit:     req.Limit,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	return map[string]interface{}{"discoveries": results, "count": len(results)}, nil
}

func (s *Service) handleGetKnowledgeGraph(ctx context.Context, inv *Invocation) (interface{}, error) {
	stats := s.graph.Snapshot()
	recent := s.graph.Search(knowledge.Filters{Limit: 10})
	return map[string]interface{}{"stats": stats, "recent": recent}, nil
}

type findSimilarRequest struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Threshold float64  `json:"threshold"`
	Limit     int      `json:"limit"`
}

func (s *Service) handleFindSimilar(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req findSimilarRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.Summary == "" {
		return nil, goverrors.MissingParameter("summary")
	}
	if req.Threshold <= 0 {
		req.Threshold = 0.3
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	results := s.graph.FindSimilar(req.Summary, req.Tags, req.Threshold, req.Limit)
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

type updateDiscoveryStatusRequest struct {
	AgentID        string `json:"agent_id"`
	DiscoveryID    string `json:"discovery_id"`
	Status         string `json:"status"`
	ResolutionNote string `json:"resolution_note"`
	SessionID      string `json:"session_id"`
}

func (s *Service) handleUpdateDiscoveryStatus(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req updateDiscoveryStatusRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.DiscoveryID == "" {
		return nil, goverrors.MissingParameter("discovery_id")
	}
	if req.Status == "" {
		return nil, goverrors.MissingParameter("status")
	}
	d, err := s.graph.UpdateStatus(ctx, req.DiscoveryID, req.Status, req.ResolutionNote, req.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"discovery": d}, nil
}

type discoveryIDRequest struct {
	DiscoveryID string `json:"discovery_id"`
}

func (s *Service) handleGetDiscoveryDetails(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req discoveryIDRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}
	if req.DiscoveryID == "" {
		return nil, goverrors.MissingParameter("discovery_id")
	}
	d, err := s.graph.Get(req.DiscoveryID)
	if err != nil {
		return nil, err
	}

	// Cross-references resolve to summaries at read time.
	related := make([]map[string]interface{}, 0, len(d.RelatedDiscoveries))
	for _, id := range d.RelatedDiscoveries {
		if rd, err := s.graph.Get(id); err == nil {
			related = append(related, map[string]interface{}{
				"id": rd.ID, "summary": rd.Summary, "status": rd.Status,
			})
		}
	}
	return map[string]interface{}{"discovery": d, "related": related}, nil
}
