package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
	"github.com/agentmesh/governance_layer/infrastructure/metrics"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Registry is the in-process owner of all agent metadata. Writes go through
// the metadata file lock; reads serve cloned records. Saves are debounced
// except for agent creation and lifecycle changes, which flush synchronously.
type Registry struct {
	layout  *store.Layout
	locks   *locking.Manager
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	agents map[string]*AgentMeta

	debounce  time.Duration
	saveMu    sync.Mutex
	saveTimer *time.Timer
	closed    bool
}

// LoadRegistry reads the shared metadata file and builds the registry.
func LoadRegistry(layout *store.Layout, locks *locking.Manager, logger *logging.Logger, m *metrics.Metrics, debounce time.Duration) (*Registry, error) {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		layout:   layout,
		locks:    locks,
		logger:   logger,
		metrics:  m,
		agents:   make(map[string]*AgentMeta),
		debounce: debounce,
	}

	var persisted map[string]*AgentMeta
	err := store.LoadJSON(layout.MetadataPath(), &persisted)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	for id, meta := range persisted {
		r.agents[id] = meta
	}
	r.refreshGauges()
	return r, nil
}

// Count returns the number of tracked agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Get returns a clone of the agent record.
func (r *Registry) Get(agentID string) (*AgentMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.agents[agentID]
	if !ok {
		return nil, goverrors.AgentNotFound(agentID)
	}
	return meta.Clone(), nil
}

// Exists reports whether an agent record is present (tombstones included).
func (r *Registry) Exists(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status
	RecentDays int
	NamedOnly  bool
	Limit      int
}

// List returns clones of matching agent records, newest activity first.
func (r *Registry) List(filter ListFilter) []*AgentMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Time{}
	if filter.RecentDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -filter.RecentDays)
	}

	out := make([]*AgentMeta, 0, len(r.agents))
	for _, meta := range r.agents {
		if filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		if meta.Status == StatusDeleted && filter.Status != StatusDeleted {
			continue
		}
		if !cutoff.IsZero() {
			last := meta.LastUpdateAt.Time
			if last.IsZero() {
				last = meta.CreatedAt.Time
			}
			if last.Before(cutoff) {
				continue
			}
		}
		if filter.NamedOnly && meta.Notes == "" && len(meta.Tags) == 0 {
			continue
		}
		out = append(out, meta.Clone())
	}

	sortByActivity(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func sortByActivity(agents []*AgentMeta) {
	for i := 1; i < len(agents); i++ {
		for j := i; j > 0; j-- {
			a, b := agents[j-1], agents[j]
			at, bt := a.LastUpdateAt.Time, b.LastUpdateAt.Time
			if at.IsZero() {
				at = a.CreatedAt.Time
			}
			if bt.IsZero() {
				bt = b.CreatedAt.Time
			}
			if bt.After(at) {
				agents[j-1], agents[j] = agents[j], agents[j-1]
			} else {
				break
			}
		}
	}
}

// generateKey returns a fresh API secret.
func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return "gk_" + hex.EncodeToString(buf), nil
}

func hashKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(hashed), nil
}

// EnsureAgent registers agentID if unseen, returning the one-time API key.
// For a known agent it returns isNew=false with an empty key.
func (r *Registry) EnsureAgent(ctx context.Context, agentID string) (key string, isNew bool, err error) {
	if !store.ValidAgentID(agentID) {
		return "", false, goverrors.BadAgentID(agentID)
	}

	r.mu.Lock()
	if _, ok := r.agents[agentID]; ok {
		r.mu.Unlock()
		return "", false, nil
	}

	key, err = generateKey()
	if err != nil {
		r.mu.Unlock()
		return "", false, goverrors.Internal("key generation failed", err)
	}
	hash, err := hashKey(key)
	if err != nil {
		r.mu.Unlock()
		return "", false, goverrors.Internal("key hashing failed", err)
	}

	now := store.Now()
	meta := &AgentMeta{
		AgentID:    agentID,
		APIKeyHash: hash,
		Status:     StatusActive,
		CreatedAt:  now,
	}
	meta.AppendEvent("registered", "", now)
	r.agents[agentID] = meta
	r.mu.Unlock()

	// Creation always hits disk before returning; a concurrent crash must
	// not lose a registration the caller was told succeeded.
	if err := r.ForceSave(ctx); err != nil {
		return "", false, err
	}
	r.logger.WithAgent(agentID).Info("Agent registered")
	return key, true, nil
}

// RotateKey replaces the agent's key, returning the new secret.
func (r *Registry) RotateKey(ctx context.Context, agentID string) (string, error) {
	key, err := generateKey()
	if err != nil {
		return "", goverrors.Internal("key generation failed", err)
	}
	hash, err := hashKey(key)
	if err != nil {
		return "", goverrors.Internal("key hashing failed", err)
	}

	err = r.Mutate(ctx, agentID, true, func(meta *AgentMeta) error {
		meta.APIKeyHash = hash
		meta.AppendEvent("key_rotated", "", store.Now())
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// CheckKey verifies the supplied secret against the stored hash.
func (r *Registry) CheckKey(agentID, key string) error {
	r.mu.RLock()
	meta, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return goverrors.AgentNotFound(agentID)
	}
	if key == "" {
		return goverrors.KeyRequired("")
	}
	if bcrypt.CompareHashAndPassword([]byte(meta.APIKeyHash), []byte(key)) != nil {
		return goverrors.AuthFailed(agentID)
	}
	return nil
}

// Mutate applies fn to the agent record under the registry write lock, then
// persists: synchronously when force is set, debounced otherwise.
func (r *Registry) Mutate(ctx context.Context, agentID string, force bool, fn func(*AgentMeta) error) error {
	r.mu.Lock()
	meta, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return goverrors.AgentNotFound(agentID)
	}
	if err := fn(meta); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if force {
		return r.ForceSave(ctx)
	}
	r.scheduleSave()
	return nil
}

// Transition moves the agent to a new status, appending a lifecycle event
// and forcing an immediate save.
func (r *Registry) Transition(ctx context.Context, agentID string, to Status, event, reason string) error {
	var from Status
	err := r.Mutate(ctx, agentID, true, func(meta *AgentMeta) error {
		from = meta.Status
		if from == StatusDeleted {
			return goverrors.StatusConflict(agentID, string(from), "not deleted")
		}
		if to == StatusDeleted && meta.IsPioneer() {
			return goverrors.PioneerProtected(agentID)
		}

		now := store.Now()
		meta.Status = to
		switch to {
		case StatusPaused:
			meta.PausedAt = &now
		case StatusActive:
			meta.PausedAt = nil
			meta.ArchivedAt = nil
		case StatusArchived:
			meta.ArchivedAt = &now
		}
		meta.AppendEvent(event, reason, now)
		return nil
	})
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordLifecycle(string(from), string(to))
	}
	r.refreshGauges()
	r.logger.LogLifecycle(ctx, agentID, string(from), string(to), reason)
	return nil
}

// Delete tombstones the agent, optionally writing a backup of its record
// first. Pioneer agents are protected.
func (r *Registry) Delete(ctx context.Context, agentID string, backupFirst bool) error {
	if backupFirst {
		meta, err := r.Get(agentID)
		if err != nil {
			return err
		}
		stamp := time.Now().UTC().Format("20060102T150405")
		if err := store.SaveJSON(r.layout.BackupPath(agentID, stamp), meta); err != nil {
			return goverrors.Storage("backup agent", err)
		}
	}
	return r.Transition(ctx, agentID, StatusDeleted, "deleted", "explicit deletion")
}

// ForceSave writes the metadata file synchronously under the metadata lock.
func (r *Registry) ForceSave(ctx context.Context) error {
	start := time.Now()
	guard, err := r.locks.Acquire(ctx, locking.MetadataLock)
	if err != nil {
		if r.metrics != nil {
			r.metrics.LockTimeouts.Inc()
		}
		return err
	}
	defer guard.Release()
	if r.metrics != nil {
		r.metrics.RecordLockWait(locking.MetadataLock, time.Since(start))
	}

	r.mu.RLock()
	snapshot := make(map[string]*AgentMeta, len(r.agents))
	for id, meta := range r.agents {
		snapshot[id] = meta.Clone()
	}
	r.mu.RUnlock()

	if err := store.SaveJSON(r.layout.MetadataPath(), snapshot); err != nil {
		return goverrors.Storage("save metadata", err)
	}
	if r.metrics != nil {
		r.metrics.RecordSave("metadata", true)
	}
	return nil
}

// scheduleSave coalesces writes within the debounce window.
func (r *Registry) scheduleSave() {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if r.closed || r.saveTimer != nil {
		return
	}
	r.saveTimer = time.AfterFunc(r.debounce, func() {
		r.saveMu.Lock()
		r.saveTimer = nil
		closed := r.closed
		r.saveMu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.flushDebounced(ctx); err != nil {
			r.logger.WithError(err).Warn("debounced metadata save failed")
		}
	})
}

func (r *Registry) flushDebounced(ctx context.Context) error {
	guard, err := r.locks.Acquire(ctx, locking.MetadataLock)
	if err != nil {
		return err
	}
	defer guard.Release()

	r.mu.RLock()
	snapshot := make(map[string]*AgentMeta, len(r.agents))
	for id, meta := range r.agents {
		snapshot[id] = meta.Clone()
	}
	r.mu.RUnlock()

	if err := store.SaveJSON(r.layout.MetadataPath(), snapshot); err != nil {
		return goverrors.Storage("save metadata", err)
	}
	if r.metrics != nil {
		r.metrics.RecordSave("metadata", false)
	}
	return nil
}

// Close flushes pending writes and stops the debouncer.
func (r *Registry) Close(ctx context.Context) error {
	r.saveMu.Lock()
	r.closed = true
	if r.saveTimer != nil {
		r.saveTimer.Stop()
		r.saveTimer = nil
	}
	r.saveMu.Unlock()
	return r.ForceSave(ctx)
}

func (r *Registry) refreshGauges() {
	if r.metrics == nil {
		return
	}
	r.mu.RLock()
	counts := make(map[Status]int)
	for _, meta := range r.agents {
		counts[meta.Status]++
	}
	r.mu.RUnlock()
	for _, status := range []Status{StatusActive, StatusWaitingInput, StatusPaused, StatusArchived, StatusDeleted} {
		r.metrics.SetAgents(string(status), counts[status])
	}
}

// CheckLoop evaluates the loop detector for an update arriving at now. On a
// match the cooldown is recorded (forced save) and a structured error
// returned; otherwise nil.
func (r *Registry) CheckLoop(ctx context.Context, agentID string, now store.Timestamp) error {
	meta, err := r.Get(agentID)
	if err != nil {
		return err
	}

	if remaining := meta.CooldownRemaining(now); remaining > 0 {
		return goverrors.LoopCooldown(remaining, "cooldown")
	}

	match := DetectLoop(now.Time, meta.UpdateTimes(), meta.RecentDecisions)
	if match == nil {
		return nil
	}

	until := store.At(now.Add(match.Cooldown))
	if err := r.Mutate(ctx, agentID, true, func(m *AgentMeta) error {
		m.LoopCooldownUntil = &until
		return nil
	}); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordLoopDetection(match.Name)
	}
	r.logger.WithAgent(agentID).WithFields(map[string]interface{}{
		"pattern":  match.Name,
		"cooldown": match.Cooldown.String(),
	}).Warn("Loop detected")
	return goverrors.LoopCooldown(match.Cooldown, match.Name)
}
