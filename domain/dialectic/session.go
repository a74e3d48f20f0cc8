// Package dialectic implements the bounded multi-party recovery protocol:
// thesis from the paused agent, antithesis from a selected reviewer, then
// synthesis rounds until agreement, exhaustion, or timeout.
package dialectic

import (
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Session states.
type State string

const (
	StateAwaitingThesis     State = "awaiting_thesis"
	StateAwaitingAntithesis State = "awaiting_antithesis"
	StateNegotiating        State = "negotiating"
	StateResolved           State = "resolved"
	StateBlocked            State = "blocked"
	StateTimedOut           State = "timed_out"
)

// Terminal reports whether no further submissions are accepted.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateBlocked || s == StateTimedOut
}

// Dispute types for discovery-linked sessions.
const (
	DisputeTypeDispute      = "dispute"
	DisputeTypeCorrection   = "correction"
	DisputeTypeVerification = "verification"
)

// Resolution actions.
const (
	ActionResume   = "resume"
	ActionBlock    = "block"
	ActionEscalate = "escalate"
)

// Statement is a thesis or antithesis submission.
type Statement struct {
	Author  string          `json:"author"`
	Content string          `json:"content"`
	At      store.Timestamp `json:"at"`
}

// SynthesisRound is one negotiation turn.
type SynthesisRound struct {
	Author  string          `json:"author"`
	Content string          `json:"content"`
	Agrees  bool            `json:"agrees"`
	At      store.Timestamp `json:"at"`
}

// Resolution records the terminal outcome and how it was applied.
type Resolution struct {
	Action     string          `json:"action"`
	Conditions []string        `json:"conditions,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	At         store.Timestamp `json:"at"`
	// AppliedConditions lists the conditions the resolver recognized and
	// executed; the rest stay recorded verbatim in Conditions.
	AppliedConditions []string `json:"applied_conditions,omitempty"`
}

// Session is one dialectic negotiation, persisted per file under
// data/dialectic_sessions/.
type Session struct {
	SessionID       string `json:"session_id"`
	PausedAgentID   string `json:"paused_agent_id"`
	ReviewerAgentID string `json:"reviewer_agent_id"`
	State           State  `json:"state"`

	Thesis          *Statement       `json:"thesis,omitempty"`
	Antithesis      *Statement       `json:"antithesis,omitempty"`
	SynthesisRounds []SynthesisRound `json:"synthesis_rounds"`

	DiscoveryID string `json:"discovery_id,omitempty"`
	DisputeType string `json:"dispute_type,omitempty"`

	SelfRecovery bool `json:"self_recovery,omitempty"`

	CreatedAt      store.Timestamp `json:"created_at"`
	LastActivityAt store.Timestamp `json:"last_activity_at"`
	Resolution     *Resolution     `json:"resolution,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

func (s *Session) clone() *Session {
	out := *s
	if s.Thesis != nil {
		st := *s.Thesis
		out.Thesis = &st
	}
	if s.Antithesis != nil {
		st := *s.Antithesis
		out.Antithesis = &st
	}
	out.SynthesisRounds = append([]SynthesisRound(nil), s.SynthesisRounds...)
	if s.Resolution != nil {
		res := *s.Resolution
		res.Conditions = append([]string(nil), s.Resolution.Conditions...)
		res.AppliedConditions = append([]string(nil), s.Resolution.AppliedConditions...)
		out.Resolution = &res
	}
	return &out
}

func (s *Session) touch(at store.Timestamp) {
	s.LastActivityAt = at
}
