package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	layout, err := store.NewLayout(t.TempDir())
	require.NoError(t, err)
	locks := locking.NewManager(layout.LockDir(), locking.DefaultOptions(), nil)
	r, err := LoadRegistry(layout, locks, nil, nil, 20*time.Millisecond)
	require.NoError(t, err)
	return r
}

func mustRegister(t *testing.T, r *Registry, id string) string {
	t.Helper()
	key, isNew, err := r.EnsureAgent(context.Background(), id)
	require.NoError(t, err)
	require.True(t, isNew)
	return key
}

func TestEnsureAgentNew(t *testing.T) {
	r := newTestRegistry(t)
	key := mustRegister(t, r, "alpha")

	assert.True(t, strings.HasPrefix(key, "gk_"))
	assert.Len(t, key, 3+64)

	meta, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, meta.Status)
	assert.False(t, meta.CreatedAt.IsZero())
	require.Len(t, meta.LifecycleEvents, 1)
	assert.Equal(t, "registered", meta.LifecycleEvents[0].Event)

	// Metadata hit disk synchronously.
	var persisted map[string]*AgentMeta
	require.NoError(t, store.LoadJSON(r.layout.MetadataPath(), &persisted))
	assert.Contains(t, persisted, "alpha")
}

func TestEnsureAgentExisting(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")

	key, isNew, err := r.EnsureAgent(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Empty(t, key, "the secret is returned exactly once")
}

func TestEnsureAgentRejectsBadID(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.EnsureAgent(context.Background(), "../etc/passwd")
	se := goverrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, goverrors.ErrCodeBadAgentID, se.Code)
}

func TestCheckKey(t *testing.T) {
	r := newTestRegistry(t)
	key := mustRegister(t, r, "alpha")

	assert.NoError(t, r.CheckKey("alpha", key))
	assert.Error(t, r.CheckKey("alpha", "gk_wrong"))
	assert.Error(t, r.CheckKey("alpha", ""))
	assert.Error(t, r.CheckKey("ghost", key))
}

func TestRotateKey(t *testing.T) {
	r := newTestRegistry(t)
	oldKey := mustRegister(t, r, "alpha")

	newKey, err := r.RotateKey(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)
	assert.Error(t, r.CheckKey("alpha", oldKey))
	assert.NoError(t, r.CheckKey("alpha", newKey))
}

func TestConcurrentCreation(t *testing.T) {
	// The I5 invariant: N parallel registrations yield exactly N records.
	r := newTestRegistry(t)
	ids := []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, isNew, err := r.EnsureAgent(context.Background(), id)
			assert.NoError(t, err)
			assert.True(t, isNew)
		}(id)
	}
	wg.Wait()

	var persisted map[string]*AgentMeta
	require.NoError(t, store.LoadJSON(r.layout.MetadataPath(), &persisted))
	for _, id := range ids {
		assert.Contains(t, persisted, id)
	}
	assert.Len(t, persisted, len(ids))
}

func TestTransitionPausedSetsTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")

	require.NoError(t, r.Transition(context.Background(), "alpha", StatusPaused, "paused", "circuit breaker"))
	meta, _ := r.Get("alpha")
	assert.Equal(t, StatusPaused, meta.Status)
	require.NotNil(t, meta.PausedAt)

	require.NoError(t, r.Transition(context.Background(), "alpha", StatusActive, "resumed", "dialectic"))
	meta, _ = r.Get("alpha")
	assert.Nil(t, meta.PausedAt)
	assert.Equal(t, StatusActive, meta.Status)
}

func TestTransitionArchivedSetsTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")

	require.NoError(t, r.Transition(context.Background(), "alpha", StatusArchived, "archived", "idle"))
	meta, _ := r.Get("alpha")
	require.NotNil(t, meta.ArchivedAt)

	// Auto-resume clears the marker.
	require.NoError(t, r.Transition(context.Background(), "alpha", StatusActive, "resumed (auto)", ""))
	meta, _ = r.Get("alpha")
	assert.Nil(t, meta.ArchivedAt)
}

func TestPioneerCannotBeDeleted(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")
	require.NoError(t, r.Mutate(context.Background(), "alpha", false, func(m *AgentMeta) error {
		m.Tags = append(m.Tags, PioneerTag)
		return nil
	}))

	err := r.Delete(context.Background(), "alpha", false)
	se := goverrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, goverrors.ErrCodePioneerLocked, se.Code)

	meta, _ := r.Get("alpha")
	assert.NotEqual(t, StatusDeleted, meta.Status)
}

func TestDeleteTombstones(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")

	require.NoError(t, r.Delete(context.Background(), "alpha", true))
	meta, err := r.Get("alpha")
	require.NoError(t, err, "tombstone is retained")
	assert.Equal(t, StatusDeleted, meta.Status)

	// Deleted is terminal.
	err = r.Transition(context.Background(), "alpha", StatusActive, "resume", "")
	assert.Error(t, err)
}

func TestDeleteWritesBackup(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")
	require.NoError(t, r.Delete(context.Background(), "alpha", true))

	entries, err := os.ReadDir(filepath.Join(r.layout.Root, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "alpha_"))
}

func TestMutateDebouncedEventuallySaves(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")

	require.NoError(t, r.Mutate(context.Background(), "alpha", false, func(m *AgentMeta) error {
		m.Notes = "annotated"
		return nil
	}))

	require.Eventually(t, func() bool {
		var persisted map[string]*AgentMeta
		if err := store.LoadJSON(r.layout.MetadataPath(), &persisted); err != nil {
			return false
		}
		return persisted["alpha"] != nil && persisted["alpha"].Notes == "annotated"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryReload(t *testing.T) {
	layout, err := store.NewLayout(t.TempDir())
	require.NoError(t, err)
	locks := locking.NewManager(layout.LockDir(), locking.DefaultOptions(), nil)

	r1, err := LoadRegistry(layout, locks, nil, nil, 10*time.Millisecond)
	require.NoError(t, err)
	key, _, err := r1.EnsureAgent(context.Background(), "alpha")
	require.NoError(t, err)
	require.NoError(t, r1.Close(context.Background()))

	r2, err := LoadRegistry(layout, locks, nil, nil, 10*time.Millisecond)
	require.NoError(t, err)
	assert.NoError(t, r2.CheckKey("alpha", key))
	meta, err := r2.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, meta.Status)
}

func TestListFilters(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")
	mustRegister(t, r, "beta")
	mustRegister(t, r, "gamma")
	require.NoError(t, r.Transition(context.Background(), "beta", StatusPaused, "paused", ""))
	require.NoError(t, r.Delete(context.Background(), "gamma", false))

	all := r.List(ListFilter{})
	assert.Len(t, all, 2, "tombstones excluded by default")

	paused := r.List(ListFilter{Status: StatusPaused})
	require.Len(t, paused, 1)
	assert.Equal(t, "beta", paused[0].AgentID)

	deleted := r.List(ListFilter{Status: StatusDeleted})
	assert.Len(t, deleted, 1)

	limited := r.List(ListFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestCheckLoopRapidFire(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "gamma")

	now := store.Now()
	require.NoError(t, r.Mutate(context.Background(), "gamma", false, func(m *AgentMeta) error {
		m.RecordUpdate(store.At(now.Add(-200 * time.Millisecond)))
		m.RecordDecision("proceed")
		return nil
	}))

	err := r.CheckLoop(context.Background(), "gamma", now)
	se := goverrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, goverrors.ErrCodeLoopCooldown, se.Code)

	remaining, ok := se.Details["remaining_seconds"].(float64)
	require.True(t, ok)
	assert.LessOrEqual(t, remaining, 5.0)

	meta, _ := r.Get("gamma")
	assert.NotNil(t, meta.LoopCooldownUntil)
}

func TestCheckLoopCooldownBlocksThenExpires(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "gamma")

	until := store.At(time.Now().Add(3 * time.Second))
	require.NoError(t, r.Mutate(context.Background(), "gamma", false, func(m *AgentMeta) error {
		m.LoopCooldownUntil = &until
		return nil
	}))

	err := r.CheckLoop(context.Background(), "gamma", store.Now())
	require.Error(t, err)

	// After expiry the cooldown clears passively.
	err = r.CheckLoop(context.Background(), "gamma", store.At(time.Now().Add(10*time.Second)))
	assert.NoError(t, err)
}

func TestCheckLoopCleanAgent(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "alpha")
	assert.NoError(t, r.CheckLoop(context.Background(), "alpha", store.Now()))
}
