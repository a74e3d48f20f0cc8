package dialectic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/governance_layer/domain/knowledge"
	"github.com/agentmesh/governance_layer/domain/registry"
	"github.com/agentmesh/governance_layer/infrastructure/config"
	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
	"github.com/agentmesh/governance_layer/infrastructure/metrics"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// SystemAuthor marks server-generated statements.
const SystemAuthor = "system"

// SignalSource exposes the per-agent dynamical signals the reviewer scorer
// needs without coupling the engine to the monitor implementation.
type SignalSource interface {
	AgentSignals(agentID string) (coherence float64, meanAttention float64, ok bool)
}

// Engine runs the dialectic protocol over persisted sessions.
type Engine struct {
	layout   *store.Layout
	locks    *locking.Manager
	logger   *logging.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	graph    *knowledge.Graph
	signals  SignalSource
	cfg      config.DialecticConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// LoadEngine reads persisted sessions and builds the engine.
func LoadEngine(layout *store.Layout, locks *locking.Manager, logger *logging.Logger, m *metrics.Metrics,
	reg *registry.Registry, graph *knowledge.Graph, signals SignalSource, cfg config.DialecticConfig) (*Engine, error) {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		layout:   layout,
		locks:    locks,
		logger:   logger,
		metrics:  m,
		registry: reg,
		graph:    graph,
		signals:  signals,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}

	ids, err := layout.ListSessions()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		var sess Session
		if err := store.LoadJSON(layout.SessionPath(id), &sess); err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{"session_id": id}).Warn("skip unreadable session")
			continue
		}
		e.sessions[sess.SessionID] = &sess
	}
	return e, nil
}

func (e *Engine) persist(sess *Session) error {
	if err := store.SaveJSON(e.layout.SessionPath(sess.SessionID), sess); err != nil {
		return goverrors.Storage("save dialectic session", err)
	}
	return nil
}

func (e *Engine) transition(sess *Session, to State) {
	sess.State = to
	if e.metrics != nil {
		e.metrics.RecordDialecticTransition(string(to))
	}
}

// ActiveSessionFor returns the non-terminal session an agent participates
// in, if any.
func (e *Engine) ActiveSessionFor(agentID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sess := range e.sessions {
		if sess.State.Terminal() {
			continue
		}
		if sess.PausedAgentID == agentID || sess.ReviewerAgentID == agentID {
			return sess.clone()
		}
	}
	return nil
}

// RequestReview opens a session for a paused agent, or a discovery dispute.
func (e *Engine) RequestReview(ctx context.Context, agentID, reason, discoveryID, disputeType string) (*Session, error) {
	meta, err := e.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	now := store.Now()
	sess := &Session{
		SessionID:       "ds_" + uuid.New().String(),
		PausedAgentID:   agentID,
		State:           StateAwaitingThesis,
		CreatedAt:       now,
		LastActivityAt:  now,
		Reason:          reason,
		SynthesisRounds: []SynthesisRound{},
	}

	if discoveryID != "" {
		// Discovery-dispute mode: the reviewer is the discovery's author.
		if disputeType == "" {
			disputeType = DisputeTypeDispute
		}
		switch disputeType {
		case DisputeTypeDispute, DisputeTypeCorrection, DisputeTypeVerification:
		default:
			return nil, goverrors.InvalidInput("dispute_type", "must be dispute, correction, or verification")
		}

		discovery, err := e.graph.Get(discoveryID)
		if err != nil {
			return nil, err
		}
		sess.DiscoveryID = discoveryID
		sess.DisputeType = disputeType
		sess.ReviewerAgentID = discovery.AgentID

		if _, err := e.graph.UpdateStatus(ctx, discoveryID, knowledge.StatusDisputed, "", sess.SessionID); err != nil {
			return nil, err
		}
	} else {
		if meta.Status != registry.StatusPaused {
			return nil, goverrors.StatusConflict(agentID, string(meta.Status), string(registry.StatusPaused))
		}
		reviewer, selfRecovery := e.selectReviewer(meta)
		sess.ReviewerAgentID = reviewer
		sess.SelfRecovery = selfRecovery
	}

	e.mu.Lock()
	e.sessions[sess.SessionID] = sess
	e.mu.Unlock()

	if err := e.persist(sess); err != nil {
		return nil, err
	}
	e.transition(sess, sess.State)
	e.logger.WithFields(map[string]interface{}{
		"session_id": sess.SessionID,
		"agent_id":   agentID,
		"reviewer":   sess.ReviewerAgentID,
		"self":       sess.SelfRecovery,
	}).Info("Dialectic session opened")
	return sess.clone(), nil
}

// selectReviewer scores eligible candidates; when nobody qualifies the
// session is promoted to self-recovery.
func (e *Engine) selectReviewer(paused *registry.AgentMeta) (string, bool) {
	now := store.Now()
	candidates := e.registry.List(registry.ListFilter{})

	bestID := ""
	bestScore := -1.0
	bestReviews := 0
	for _, cand := range candidates {
		if cand.AgentID == paused.AgentID {
			continue
		}
		if cand.Status != registry.StatusActive && cand.Status != registry.StatusWaitingInput {
			continue
		}
		// Collusion avoidance: skip anyone already negotiating elsewhere.
		if e.ActiveSessionFor(cand.AgentID) != nil {
			continue
		}
		if cand.ReviewedWithin(paused.AgentID, e.cfg.ReviewerCooldown, now) {
			continue
		}

		score := e.scoreCandidate(cand, paused)
		reviews := len(cand.RecentReviews)
		if score > bestScore || (score == bestScore && reviews < bestReviews) {
			bestID = cand.AgentID
			bestScore = score
			bestReviews = reviews
		}
	}

	if bestID == "" {
		return paused.AgentID, true
	}
	return bestID, false
}

func (e *Engine) scoreCandidate(cand, paused *registry.AgentMeta) float64 {
	score := 0.0
	if e.signals != nil {
		if coherence, attention, ok := e.signals.AgentSignals(cand.AgentID); ok {
			score += coherence + (1 - attention)
		}
	}
	// Tag-expertise overlap with the paused agent's context.
	overlap := 0
	for _, tag := range cand.Tags {
		for _, want := range paused.Tags {
			if tag == want {
				overlap++
			}
		}
	}
	score += 0.5 * float64(overlap)
	return score
}

// get locates a session and applies lazy timeout detection.
func (e *Engine) get(sessionID string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		return nil, goverrors.SessionNotFound(sessionID)
	}
	e.maybeTimeoutLocked(sess)
	return sess, nil
}

// maybeTimeoutLocked moves an overdue awaiting_antithesis session to
// timed_out. Caller holds e.mu.
func (e *Engine) maybeTimeoutLocked(sess *Session) {
	if sess.State != StateAwaitingAntithesis {
		return
	}
	if time.Since(sess.LastActivityAt.Time) <= e.cfg.MaxAntithesisWait {
		return
	}
	e.transition(sess, StateTimedOut)
	now := store.Now()
	sess.Resolution = &Resolution{
		Action: ActionEscalate,
		Notes:  "antithesis wait exceeded; escalated",
		At:     now,
	}
	sess.touch(now)
	if err := e.persist(sess); err != nil {
		e.logger.WithError(err).Warn("persist timed-out session")
	}
}

// GetSession returns a clone, running lazy timeout detection first.
func (e *Engine) GetSession(sessionID string) (*Session, error) {
	sess, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sess.clone(), nil
}

// SubmitThesis records the paused agent's account and advances the session.
// Self-recovery sessions receive a canned antithesis immediately.
func (e *Engine) SubmitThesis(ctx context.Context, sessionID, author, content string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[sessionID]
	if !ok {
		return nil, goverrors.SessionNotFound(sessionID)
	}
	if sess.State != StateAwaitingThesis {
		return nil, goverrors.WrongState(string(sess.State), string(StateAwaitingThesis))
	}
	if author != sess.PausedAgentID && author != SystemAuthor {
		return nil, goverrors.WrongParty("paused agent")
	}

	now := store.Now()
	sess.Thesis = &Statement{Author: author, Content: content, At: now}
	e.transition(sess, StateAwaitingAntithesis)
	sess.touch(now)

	if sess.SelfRecovery {
		sess.Antithesis = &Statement{
			Author:  SystemAuthor,
			Content: e.cannedAntithesis(sess.PausedAgentID),
			At:      now,
		}
		e.transition(sess, StateNegotiating)
	}

	if err := e.persist(sess); err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

// cannedAntithesis derives a reviewer statement from the agent's metrics.
func (e *Engine) cannedAntithesis(agentID string) string {
	coherence, attention := 0.0, 0.0
	if e.signals != nil {
		if c, a, ok := e.signals.AgentSignals(agentID); ok {
			coherence, attention = c, a
		}
	}
	return fmt.Sprintf(
		"No peer reviewer was available, so here is the view from your own metrics: coherence %.2f, recent attention %.2f. "+
			"The pause fired because the signals crossed a safety band, not because the work itself was wrong. "+
			"A reasonable path forward: narrow the scope of the next step and rebuild momentum gradually.",
		coherence, attention)
}

// SubmitAntithesis records the reviewer's counterpoint.
func (e *Engine) SubmitAntithesis(ctx context.Context, sessionID, author, content string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[sessionID]
	if !ok {
		return nil, goverrors.SessionNotFound(sessionID)
	}
	e.maybeTimeoutLocked(sess)
	if sess.State != StateAwaitingAntithesis {
		return nil, goverrors.WrongState(string(sess.State), string(StateAwaitingAntithesis))
	}
	if author != sess.ReviewerAgentID && author != SystemAuthor {
		return nil, goverrors.WrongParty("reviewer")
	}

	now := store.Now()
	sess.Antithesis = &Statement{Author: author, Content: content, At: now}
	e.transition(sess, StateNegotiating)
	sess.touch(now)

	if err := e.persist(sess); err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

// SynthesisInput carries one negotiation turn.
type SynthesisInput struct {
	SessionID  string
	Author     string
	Content    string
	Agrees     bool
	Action     string   // resume (default) | block; only honored on agreement
	Conditions []string // free-form; recognized ones are applied on resolve
	Notes      string
}

// SubmitSynthesis advances the negotiation. Agreement resolves the session
// and executes the resolution; exhausting the round budget blocks it.
func (e *Engine) SubmitSynthesis(ctx context.Context, in SynthesisInput) (*Session, error) {
	e.mu.Lock()

	sess, ok := e.sessions[in.SessionID]
	if !ok {
		e.mu.Unlock()
		return nil, goverrors.SessionNotFound(in.SessionID)
	}
	if sess.State != StateNegotiating {
		state := sess.State
		e.mu.Unlock()
		if state.Terminal() {
			return nil, goverrors.Terminal(string(state))
		}
		return nil, goverrors.WrongState(string(state), string(StateNegotiating))
	}
	if in.Author != sess.PausedAgentID && in.Author != sess.ReviewerAgentID && in.Author != SystemAuthor {
		e.mu.Unlock()
		return nil, goverrors.WrongParty("session participant")
	}

	now := store.Now()
	sess.SynthesisRounds = append(sess.SynthesisRounds, SynthesisRound{
		Author:  in.Author,
		Content: in.Content,
		Agrees:  in.Agrees,
		At:      now,
	})
	sess.touch(now)

	if in.Agrees {
		action := in.Action
		if action == "" {
			action = ActionResume
		}
		if action != ActionResume && action != ActionBlock {
			e.mu.Unlock()
			return nil, goverrors.InvalidInput("action", "must be resume or block")
		}
		sess.Resolution = &Resolution{
			Action:     action,
			Conditions: in.Conditions,
			Notes:      in.Notes,
			At:         now,
		}
		e.transition(sess, StateResolved)
		if err := e.persist(sess); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		clone := sess.clone()
		e.mu.Unlock()

		if err := e.executeResolution(ctx, clone); err != nil {
			return nil, err
		}
		return e.GetSession(in.SessionID)
	}

	if len(sess.SynthesisRounds) >= e.cfg.MaxSynthesisRounds {
		sess.Resolution = &Resolution{
			Action: ActionEscalate,
			Notes:  "synthesis rounds exhausted without agreement",
			At:     now,
		}
		e.transition(sess, StateBlocked)
		if err := e.persist(sess); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		clone := sess.clone()
		e.mu.Unlock()

		if err := e.executeBlocked(ctx, clone); err != nil {
			return nil, err
		}
		return e.GetSession(in.SessionID)
	}

	if err := e.persist(sess); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	clone := sess.clone()
	e.mu.Unlock()
	return clone, nil
}

// executeResolution applies a resolved session exactly once: recognized
// conditions, the agent transition, the reviewer's review record, and the
// discovery cross-reference when the session is a dispute.
func (e *Engine) executeResolution(ctx context.Context, sess *Session) error {
	// The registry serializes metadata writes under the metadata file lock;
	// holding it here as well would self-deadlock. The agent state file is
	// untouched by resolution, so no agent lock is needed either.
	applied := e.applyConditions(ctx, sess)

	discoveryOnly := sess.DiscoveryID != "" && sess.DisputeType != ""
	if !discoveryOnly {
		switch sess.Resolution.Action {
		case ActionResume:
			if err := e.registry.Transition(ctx, sess.PausedAgentID, registry.StatusActive,
				"resumed (dialectic)", "session "+sess.SessionID); err != nil {
				return err
			}
		case ActionBlock:
			if err := e.registry.Transition(ctx, sess.PausedAgentID, registry.StatusArchived,
				"archived (dialectic)", "session "+sess.SessionID); err != nil {
				return err
			}
		}
	}

	if sess.ReviewerAgentID != sess.PausedAgentID {
		_ = e.registry.Mutate(ctx, sess.ReviewerAgentID, false, func(m *registry.AgentMeta) error {
			m.RecordReview(sess.PausedAgentID, store.Now())
			return nil
		})
	}

	if sess.DiscoveryID != "" && sess.Resolution.Action == ActionResume {
		note := "resolved via dialectic session " + sess.SessionID
		if _, err := e.graph.UpdateStatus(ctx, sess.DiscoveryID, knowledge.StatusResolved, note, sess.SessionID); err != nil {
			e.logger.WithError(err).Warn("mark disputed discovery resolved")
		}
	}

	e.mu.Lock()
	if live, ok := e.sessions[sess.SessionID]; ok && live.Resolution != nil {
		live.Resolution.AppliedConditions = applied
		if err := e.persist(live); err != nil {
			e.logger.WithError(err).Warn("persist resolution application")
		}
	}
	e.mu.Unlock()
	return nil
}

// executeBlocked applies the side effects of a blocked session.
func (e *Engine) executeBlocked(ctx context.Context, sess *Session) error {
	if sess.DiscoveryID != "" {
		note := "dispute blocked; verified correct (session " + sess.SessionID + ")"
		if _, err := e.graph.UpdateStatus(ctx, sess.DiscoveryID, knowledge.StatusOpen, note, sess.SessionID); err != nil {
			e.logger.WithError(err).Warn("revert disputed discovery")
		}
	}
	return nil
}

// applyConditions executes the conditions the resolver recognizes and
// returns them; everything else stays stored verbatim on the session.
// An unrecognized condition never fails the resolution.
func (e *Engine) applyConditions(ctx context.Context, sess *Session) []string {
	if sess.Resolution == nil {
		return nil
	}
	var applied []string
	for _, cond := range sess.Resolution.Conditions {
		trimmed := strings.TrimSpace(strings.ToLower(cond))
		switch {
		case strings.HasPrefix(trimmed, "tag:"):
			tag := strings.TrimSpace(strings.TrimPrefix(trimmed, "tag:"))
			if tag == "" {
				continue
			}
			if err := e.registry.Mutate(ctx, sess.PausedAgentID, false, func(m *registry.AgentMeta) error {
				if !m.HasTag(tag) {
					m.Tags = append(m.Tags, tag)
				}
				return nil
			}); err == nil {
				applied = append(applied, cond)
			}
		case strings.HasPrefix(trimmed, "cap_complexity:"):
			raw := strings.TrimSpace(strings.TrimPrefix(trimmed, "cap_complexity:"))
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				continue
			}
			if err := e.registry.Mutate(ctx, sess.PausedAgentID, false, func(m *registry.AgentMeta) error {
				tag := "cap_complexity:" + raw
				if !m.HasTag(tag) {
					m.Tags = append(m.Tags, tag)
				}
				return nil
			}); err == nil {
				applied = append(applied, cond)
			}
		case trimmed == "lower_thresholds":
			if err := e.registry.Mutate(ctx, sess.PausedAgentID, false, func(m *registry.AgentMeta) error {
				if !m.HasTag("conservative_thresholds") {
					m.Tags = append(m.Tags, "conservative_thresholds")
				}
				return nil
			}); err == nil {
				applied = append(applied, cond)
			}
		}
	}
	return applied
}

// SweepTimeouts runs lazy timeout detection across all sessions. Used by
// the maintenance scheduler.
func (e *Engine) SweepTimeouts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, sess := range e.sessions {
		if sess.State == StateAwaitingAntithesis {
			before := sess.State
			e.maybeTimeoutLocked(sess)
			if sess.State != before {
				count++
			}
		}
	}
	return count
}

// SessionCount returns totals by state.
func (e *Engine) SessionCount() map[State]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[State]int)
	for _, sess := range e.sessions {
		out[sess.State]++
	}
	return out
}
