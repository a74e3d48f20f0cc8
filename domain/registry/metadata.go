// Package registry owns agent metadata records: identity, lifecycle,
// rate-counter rings, and loop-detection buffers. All mutation goes through
// the Registry; other components read through copies.
package registry

import (
	"time"

	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Status is the agent lifecycle status.
type Status string

const (
	StatusActive       Status = "active"
	StatusWaitingInput Status = "waiting_input"
	StatusPaused       Status = "paused"
	StatusArchived     Status = "archived"
	StatusDeleted      Status = "deleted"
)

// PioneerTag marks protected agents that can never be deleted.
const PioneerTag = "pioneer"

// Ring capacities. The spec floors are 10 decisions and 20 timestamps; we
// keep some slack so every loop pattern has its full lookback.
const (
	decisionRingCap  = 20
	timestampRingCap = 40
	storeRingCap     = 20
	reviewRingCap    = 20
)

// LifecycleEvent is one append-only lifecycle entry.
type LifecycleEvent struct {
	Event     string          `json:"event"`
	Timestamp store.Timestamp `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
}

// ReviewRecord notes one dialectic review this agent performed.
type ReviewRecord struct {
	ReviewedAgentID string          `json:"reviewed_agent_id"`
	At              store.Timestamp `json:"at"`
}

// AgentMeta is one agent's metadata record.
type AgentMeta struct {
	AgentID      string           `json:"agent_id"`
	APIKeyHash   string           `json:"api_key_hash"`
	Status       Status           `json:"status"`
	CreatedAt    store.Timestamp  `json:"created_at"`
	LastUpdateAt store.Timestamp  `json:"last_update_at"`
	ArchivedAt   *store.Timestamp `json:"archived_at,omitempty"`
	PausedAt     *store.Timestamp `json:"paused_at,omitempty"`

	TotalUpdates    int              `json:"total_updates"`
	LifecycleEvents []LifecycleEvent `json:"lifecycle_events"`

	Tags  []string `json:"tags"`
	Notes string   `json:"notes"`

	RecentDecisions        []string          `json:"recent_decisions"`
	RecentUpdateTimestamps []store.Timestamp `json:"recent_update_timestamps"`
	LoopCooldownUntil      *store.Timestamp  `json:"loop_cooldown_until,omitempty"`
	RecentStoreTimestamps  []store.Timestamp `json:"recent_store_timestamps"`
	RecentReviews          []ReviewRecord    `json:"recent_reviews,omitempty"`
}

// HasTag reports whether the agent carries tag.
func (a *AgentMeta) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsPioneer reports whether the agent is deletion-protected.
func (a *AgentMeta) IsPioneer() bool {
	return a.HasTag(PioneerTag)
}

// AppendEvent records a lifecycle event.
func (a *AgentMeta) AppendEvent(event, reason string, at store.Timestamp) {
	a.LifecycleEvents = append(a.LifecycleEvents, LifecycleEvent{
		Event:     event,
		Timestamp: at,
		Reason:    reason,
	})
}

// RecordDecision pushes an action onto the decision ring.
func (a *AgentMeta) RecordDecision(action string) {
	a.RecentDecisions = append(a.RecentDecisions, action)
	if len(a.RecentDecisions) > decisionRingCap {
		a.RecentDecisions = a.RecentDecisions[len(a.RecentDecisions)-decisionRingCap:]
	}
}

// RecordUpdate pushes an update instant onto the timestamp ring and bumps
// the counters.
func (a *AgentMeta) RecordUpdate(at store.Timestamp) {
	a.RecentUpdateTimestamps = append(a.RecentUpdateTimestamps, at)
	if len(a.RecentUpdateTimestamps) > timestampRingCap {
		a.RecentUpdateTimestamps = a.RecentUpdateTimestamps[len(a.RecentUpdateTimestamps)-timestampRingCap:]
	}
	a.TotalUpdates++
	a.LastUpdateAt = at
}

// RecordStore pushes a knowledge-store instant onto its ring.
func (a *AgentMeta) RecordStore(at store.Timestamp) {
	a.RecentStoreTimestamps = append(a.RecentStoreTimestamps, at)
	if len(a.RecentStoreTimestamps) > storeRingCap {
		a.RecentStoreTimestamps = a.RecentStoreTimestamps[len(a.RecentStoreTimestamps)-storeRingCap:]
	}
}

// RecordReview notes a completed dialectic review.
func (a *AgentMeta) RecordReview(reviewedAgentID string, at store.Timestamp) {
	a.RecentReviews = append(a.RecentReviews, ReviewRecord{ReviewedAgentID: reviewedAgentID, At: at})
	if len(a.RecentReviews) > reviewRingCap {
		a.RecentReviews = a.RecentReviews[len(a.RecentReviews)-reviewRingCap:]
	}
}

// ReviewedWithin reports whether this agent reviewed target within window.
func (a *AgentMeta) ReviewedWithin(target string, window time.Duration, now store.Timestamp) bool {
	for _, r := range a.RecentReviews {
		if r.ReviewedAgentID == target && now.Sub(r.At) < window {
			return true
		}
	}
	return false
}

// CooldownRemaining returns how much loop cooldown is left at now, or zero.
func (a *AgentMeta) CooldownRemaining(now store.Timestamp) time.Duration {
	if a.LoopCooldownUntil == nil {
		return 0
	}
	remaining := a.LoopCooldownUntil.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UpdateTimes converts the update ring to time.Time values.
func (a *AgentMeta) UpdateTimes() []time.Time {
	out := make([]time.Time, len(a.RecentUpdateTimestamps))
	for i, ts := range a.RecentUpdateTimestamps {
		out[i] = ts.Time
	}
	return out
}

// StoreTimes converts the knowledge-store ring to time.Time values.
func (a *AgentMeta) StoreTimes() []time.Time {
	out := make([]time.Time, len(a.RecentStoreTimestamps))
	for i, ts := range a.RecentStoreTimestamps {
		out[i] = ts.Time
	}
	return out
}

// Clone deep-copies the record.
func (a *AgentMeta) Clone() *AgentMeta {
	out := *a
	out.LifecycleEvents = append([]LifecycleEvent(nil), a.LifecycleEvents...)
	out.Tags = append([]string(nil), a.Tags...)
	out.RecentDecisions = append([]string(nil), a.RecentDecisions...)
	out.RecentUpdateTimestamps = append([]store.Timestamp(nil), a.RecentUpdateTimestamps...)
	out.RecentStoreTimestamps = append([]store.Timestamp(nil), a.RecentStoreTimestamps...)
	out.RecentReviews = append([]ReviewRecord(nil), a.RecentReviews...)
	if a.ArchivedAt != nil {
		ts := *a.ArchivedAt
		out.ArchivedAt = &ts
	}
	if a.PausedAt != nil {
		ts := *a.PausedAt
		out.PausedAt = &ts
	}
	if a.LoopCooldownUntil != nil {
		ts := *a.LoopCooldownUntil
		out.LoopCooldownUntil = &ts
	}
	return &out
}
