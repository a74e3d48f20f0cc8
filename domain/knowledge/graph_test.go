package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	layout, err := store.NewLayout(t.TempDir())
	require.NoError(t, err)
	locks := locking.NewManager(layout.LockDir(), locking.DefaultOptions(), nil)
	g, err := Load(layout, locks, nil, nil)
	require.NoError(t, err)
	return g
}

func mustStore(t *testing.T, g *Graph, in StoreInput) *Discovery {
	t.Helper()
	d, _, err := g.Store(context.Background(), in)
	require.NoError(t, err)
	return d
}

func TestStoreAndGet(t *testing.T) {
	g := newTestGraph(t)
	d := mustStore(t, g, StoreInput{
		AgentID:  "alpha",
		Type:     TypeBugFound,
		Summary:  "Race in the metadata flusher",
		Severity: SeverityMedium,
		Tags:     []string{"Concurrency", "metadata", "concurrency"},
	})

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, StatusOpen, d.Status)
	// Tags normalize to lowercase and dedupe.
	assert.Equal(t, []string{"concurrency", "metadata"}, d.Tags)

	got, err := g.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Summary, got.Summary)
}

func TestStoreValidation(t *testing.T) {
	g := newTestGraph(t)

	_, _, err := g.Store(context.Background(), StoreInput{AgentID: "a", Type: TypeInsight})
	assert.Error(t, err, "summary required")

	_, _, err = g.Store(context.Background(), StoreInput{AgentID: "a", Type: "rumor", Summary: "x"})
	assert.Error(t, err, "type enum enforced")

	_, _, err = g.Store(context.Background(), StoreInput{AgentID: "a", Type: TypeInsight, Summary: "x", Severity: "catastrophic"})
	assert.Error(t, err, "severity enum enforced")
}

func TestHighSeverityRequiresAuth(t *testing.T) {
	g := newTestGraph(t)

	_, _, err := g.Store(context.Background(), StoreInput{
		AgentID: "anon", Type: TypeBugFound, Summary: "prod is down", Severity: SeverityCritical,
	})
	se := goverrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, goverrors.ErrCodeKeyRequired, se.Code)

	d, _, err := g.Store(context.Background(), StoreInput{
		AgentID: "alpha", Type: TypeBugFound, Summary: "prod is down", Severity: SeverityCritical,
		Authenticated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, d.Severity)
}

func TestStorePersists(t *testing.T) {
	layout, err := store.NewLayout(t.TempDir())
	require.NoError(t, err)
	locks := locking.NewManager(layout.LockDir(), locking.DefaultOptions(), nil)

	g1, err := Load(layout, locks, nil, nil)
	require.NoError(t, err)
	d, _, err := g1.Store(context.Background(), StoreInput{
		AgentID: "alpha", Type: TypeInsight, Summary: "caching pays off", Tags: []string{"perf"},
	})
	require.NoError(t, err)

	g2, err := Load(layout, locks, nil, nil)
	require.NoError(t, err)
	got, err := g2.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "caching pays off", got.Summary)
	assert.Equal(t, 1, g2.Count())
}

func seedGraph(t *testing.T, g *Graph) map[string]*Discovery {
	t.Helper()
	out := make(map[string]*Discovery)
	out["bug"] = mustStore(t, g, StoreInput{
		AgentID: "alpha", Type: TypeBugFound, Summary: "Deadlock in lock manager",
		Severity: SeverityHigh, Tags: []string{"locks", "concurrency"}, Authenticated: true,
	})
	out["insight"] = mustStore(t, g, StoreInput{
		AgentID: "beta", Type: TypeInsight, Summary: "Retry with backoff stabilizes saves",
		Severity: SeverityLow, Tags: []string{"persistence"},
	})
	out["pattern"] = mustStore(t, g, StoreInput{
		AgentID: "beta", Type: TypePattern, Summary: "Guard pattern for lock release",
		Severity: SeverityMedium, Tags: []string{"locks"},
	})
	return out
}

func TestSearchFilters(t *testing.T) {
	g := newTestGraph(t)
	seeded := seedGraph(t, g)

	byAgent := g.Search(Filters{AgentID: "beta"})
	assert.Len(t, byAgent, 2)

	byType := g.Search(Filters{Type: TypeBugFound})
	require.Len(t, byType, 1)
	assert.Equal(t, seeded["bug"].ID, byType[0].ID)

	byTags := g.Search(Filters{Tags: []string{"locks", "concurrency"}})
	require.Len(t, byTags, 1, "tags are AND-ed")
	assert.Equal(t, seeded["bug"].ID, byTags[0].ID)

	byText := g.Search(Filters{Text: "backoff"})
	require.Len(t, byText, 1)
	assert.Equal(t, seeded["insight"].ID, byText[0].ID)

	bySeverity := g.Search(Filters{Severity: SeverityMedium})
	assert.Len(t, bySeverity, 1)

	assert.Empty(t, g.Search(Filters{AgentID: "nobody"}))
}

func TestSearchSorting(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)

	bySeverity := g.Search(Filters{SortBy: "severity", SortOrder: "desc"})
	require.Len(t, bySeverity, 3)
	assert.Equal(t, SeverityHigh, bySeverity[0].Severity)
	assert.Equal(t, SeverityLow, bySeverity[2].Severity)

	byTime := g.Search(Filters{SortBy: "timestamp", SortOrder: "asc"})
	require.Len(t, byTime, 3)
	assert.True(t, !byTime[0].CreatedAt.After(byTime[1].CreatedAt.Time))
}

func TestSearchLimit(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)
	assert.Len(t, g.Search(Filters{Limit: 2}), 2)
}

func TestFindSimilar(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)

	results := g.FindSimilar("deadlock detected in the lock manager", []string{"locks"}, 0.2, 5)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Discovery.Summary, "Deadlock")
	assert.GreaterOrEqual(t, results[0].Score, 0.2)
	assert.LessOrEqual(t, results[0].Score, 1.0)

	none := g.FindSimilar("completely unrelated gardening topic", nil, 0.5, 5)
	assert.Empty(t, none)
}

func TestUpdateStatus(t *testing.T) {
	g := newTestGraph(t)
	seeded := seedGraph(t, g)
	id := seeded["bug"].ID

	d, err := g.UpdateStatus(context.Background(), id, StatusResolved, "fixed by ordering", "")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, d.Status)
	assert.NotNil(t, d.ResolvedAt)
	assert.Equal(t, "fixed by ordering", d.ResolutionNote)

	// Idempotent for equal status.
	again, err := g.UpdateStatus(context.Background(), id, StatusResolved, "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, again.Status)
}

func TestDisputeRequiresSession(t *testing.T) {
	g := newTestGraph(t)
	seeded := seedGraph(t, g)

	_, err := g.UpdateStatus(context.Background(), seeded["bug"].ID, StatusDisputed, "", "")
	assert.Error(t, err)

	d, err := g.UpdateStatus(context.Background(), seeded["bug"].ID, StatusDisputed, "", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", d.DisputeSessionID)
}

func TestArchivedCannotBeDisputed(t *testing.T) {
	g := newTestGraph(t)
	seeded := seedGraph(t, g)
	id := seeded["insight"].ID

	_, err := g.UpdateStatus(context.Background(), id, StatusArchived, "", "")
	require.NoError(t, err)

	_, err = g.UpdateStatus(context.Background(), id, StatusDisputed, "", "sess-1")
	se := goverrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, goverrors.ErrCodeWrongState, se.Code)
}

func TestUpdateStatusUnknownID(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.UpdateStatus(context.Background(), "d_missing", StatusResolved, "", "")
	se := goverrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, goverrors.ErrCodeDiscoveryNotFound, se.Code)
}

func TestRelevanceExcludesOwnDiscoveries(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)

	results := g.Relevance("alpha", []string{"locks"}, "lock manager troubles", 3)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "alpha", r.Discovery.AgentID)
	}
}

func TestRelevanceLimitsResults(t *testing.T) {
	g := newTestGraph(t)
	for i := 0; i < 8; i++ {
		mustStore(t, g, StoreInput{
			AgentID: "other", Type: TypeInsight,
			Summary: "locks and more locks in the manager",
			Tags:    []string{"locks"},
		})
	}

	results := g.Relevance("caller", []string{"locks"}, "locks manager", 3)
	assert.Len(t, results, 3)
}

func TestRelevanceSkipsArchived(t *testing.T) {
	g := newTestGraph(t)
	d := mustStore(t, g, StoreInput{
		AgentID: "other", Type: TypeInsight, Summary: "locks wisdom", Tags: []string{"locks"},
	})
	_, err := g.UpdateStatus(context.Background(), d.ID, StatusArchived, "", "")
	require.NoError(t, err)

	results := g.Relevance("caller", []string{"locks"}, "locks", 3)
	assert.Empty(t, results)
}

func TestSnapshotStats(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)

	stats := g.Snapshot()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByType[TypeBugFound])
	assert.Equal(t, 3, stats.ByStatus[StatusOpen])
	assert.Equal(t, 2, stats.Agents)
}

func TestDuplicateWarningsDoNotBlock(t *testing.T) {
	g := newTestGraph(t)
	mustStore(t, g, StoreInput{
		AgentID: "alpha", Type: TypeBugFound, Summary: "timeout in dispatcher queue", Tags: []string{"dispatcher"},
	})

	d, warnings, err := g.Store(context.Background(), StoreInput{
		AgentID: "beta", Type: TypeBugFound, Summary: "timeout in dispatcher queue again",
		Tags: []string{"dispatcher"}, CheckDuplicates: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, d)
	assert.NotEmpty(t, warnings)
}
