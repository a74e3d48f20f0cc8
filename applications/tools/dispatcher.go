package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
	"github.com/agentmesh/governance_layer/infrastructure/ratelimit"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Rate-limit classes.
const (
	RateClassNone            = ""
	RateClassUpdates         = "updates"
	RateClassKnowledgeStores = "knowledge_stores"
)

// Handler is the uniform tool handler signature. Timeouts, auth, and rate
// limits are enforced by the dispatcher, never inside handlers.
type Handler func(ctx context.Context, inv *Invocation) (interface{}, error)

// Spec describes one tool in the dispatch table.
type Spec struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Timeout      time.Duration `json:"-"`
	RequiresAuth bool          `json:"requires_auth"`
	RateClass    string        `json:"rate_class,omitempty"`
	Handler      Handler       `json:"-"`
}

// Invocation carries one parsed tool call into a handler.
type Invocation struct {
	Tool    string
	AgentID string
	APIKey  string
	// Authenticated is true when an api_key was supplied and verified, even
	// for tools that do not require auth.
	Authenticated bool
	Args          json.RawMessage
}

// Bind unmarshals the raw arguments into v.
func (inv *Invocation) Bind(v interface{}) error {
	if len(inv.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(inv.Args, v); err != nil {
		return goverrors.InvalidInput("args", "malformed arguments")
	}
	return nil
}

func (s *Service) register(spec *Spec) {
	s.specs[spec.Name] = spec
	s.order = append(s.order, spec.Name)
}

// Specs returns the tool table in registration order.
func (s *Service) Specs() []*Spec {
	out := make([]*Spec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.specs[name])
	}
	return out
}

// Dispatch routes one tool call: resolve, authenticate, rate limit, enforce
// the per-tool timeout, then run the handler.
func (s *Service) Dispatch(ctx context.Context, tool string, payload []byte) (interface{}, error) {
	start := time.Now()
	result, err := s.dispatch(ctx, tool, payload)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if se := goverrors.GetServiceError(err); se != nil {
			outcome = string(se.Code)
		}
	}
	s.metrics.RecordToolCall(tool, outcome, duration)
	s.recordUsage(tool, duration, err)
	s.logger.LogToolCall(ctx, tool, gjson.GetBytes(payload, "agent_id").String(), duration, err)
	return result, err
}

func (s *Service) dispatch(ctx context.Context, tool string, payload []byte) (interface{}, error) {
	spec, ok := s.specs[tool]
	if !ok {
		return nil, goverrors.ToolNotFound(tool)
	}

	inv := &Invocation{
		Tool:    tool,
		AgentID: gjson.GetBytes(payload, "agent_id").String(),
		APIKey:  gjson.GetBytes(payload, "api_key").String(),
		Args:    json.RawMessage(payload),
	}
	if inv.AgentID != "" {
		ctx = logging.WithAgentID(ctx, inv.AgentID)
	}
	ctx = logging.WithTool(ctx, tool)

	if spec.RequiresAuth {
		if inv.AgentID == "" {
			return nil, goverrors.MissingParameter("agent_id")
		}
		if err := s.registry.CheckKey(inv.AgentID, inv.APIKey); err != nil {
			if inv.APIKey == "" {
				return nil, goverrors.KeyRequired(tool)
			}
			return nil, err
		}
		inv.Authenticated = true
	} else if inv.AgentID != "" && inv.APIKey != "" {
		// Optional auth: a valid key upgrades the invocation.
		inv.Authenticated = s.registry.CheckKey(inv.AgentID, inv.APIKey) == nil
	}

	if err := s.checkRateClass(spec, inv); err != nil {
		return nil, err
	}

	return s.runWithTimeout(ctx, spec, inv)
}

// checkRateClass enforces the per-agent sliding windows. The timestamp
// rings live in agent metadata; successful operations record themselves in
// their handlers.
func (s *Service) checkRateClass(spec *Spec, inv *Invocation) error {
	if spec.RateClass == RateClassNone || inv.AgentID == "" {
		return nil
	}
	meta, err := s.registry.Get(inv.AgentID)
	if err != nil {
		// Unregistered agents are handled by the tool itself.
		return nil
	}

	now := time.Now()
	switch spec.RateClass {
	case RateClassUpdates:
		w := ratelimit.Window{Limit: s.cfg.Limits.UpdatesPerMinute, Period: time.Minute}
		if d := w.Check(now, meta.UpdateTimes()); !d.Allowed {
			return goverrors.RateLimited(RateClassUpdates, d.ResetAt)
		}
	case RateClassKnowledgeStores:
		w := ratelimit.Window{Limit: s.cfg.Limits.KnowledgeStoresPerHour, Period: time.Hour}
		if d := w.Check(now, meta.StoreTimes()); !d.Allowed {
			if s.metrics != nil {
				s.metrics.RecordKnowledgeStore("rate_limited")
			}
			return goverrors.RateLimited(RateClassKnowledgeStores, d.ResetAt)
		}
	}
	return nil
}

// runWithTimeout executes the handler under the tool's deadline. A timed-out
// call is abandoned; its goroutine may finish but the result is discarded
// and locks it held are released by its own deferred guards.
func (s *Service) runWithTimeout(ctx context.Context, spec *Spec, inv *Invocation) (interface{}, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeouts.Default
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := spec.Handler(ctx, inv)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, goverrors.Timeout(spec.Name, timeout)
	}
}

// requireSelf rejects cross-agent calls: the authenticated caller must be
// acting on its own agent_id.
func requireSelf(inv *Invocation, targetAgentID string) error {
	if targetAgentID != "" && targetAgentID != inv.AgentID {
		return goverrors.CrossAgent(inv.AgentID, targetAgentID)
	}
	return nil
}

// nowStamp is a convenience wrapper.
func nowStamp() store.Timestamp { return store.Now() }
