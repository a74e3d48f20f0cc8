// Package knowledge maintains the cross-agent discovery graph: an indexed,
// rate-limited content store with filtered search and tag-based similarity.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
	"github.com/agentmesh/governance_layer/infrastructure/metrics"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Discovery types.
const (
	TypeBugFound    = "bug_found"
	TypeInsight     = "insight"
	TypePattern     = "pattern"
	TypeImprovement = "improvement"
	TypeQuestion    = "question"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Statuses.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusArchived = "archived"
	StatusDisputed = "disputed"
)

var validTypes = map[string]bool{
	TypeBugFound: true, TypeInsight: true, TypePattern: true,
	TypeImprovement: true, TypeQuestion: true,
}

var validSeverities = map[string]bool{
	SeverityLow: true, SeverityMedium: true, SeverityHigh: true, SeverityCritical: true,
}

var validStatuses = map[string]bool{
	StatusOpen: true, StatusResolved: true, StatusArchived: true, StatusDisputed: true,
}

var severityRank = map[string]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Discovery is one knowledge-graph node. Cross-references are ids, never
// pointers; readers resolve them through the indices.
type Discovery struct {
	ID                 string           `json:"id"`
	AgentID            string           `json:"agent_id"`
	Type               string           `json:"type"`
	Summary            string           `json:"summary"`
	Details            string           `json:"details,omitempty"`
	Severity           string           `json:"severity"`
	Status             string           `json:"status"`
	Tags               []string         `json:"tags"`
	RelatedFiles       []string         `json:"related_files,omitempty"`
	RelatedDiscoveries []string         `json:"related_discoveries,omitempty"`
	CreatedAt          store.Timestamp  `json:"created_at"`
	ResolvedAt         *store.Timestamp `json:"resolved_at,omitempty"`
	ResolutionNote     string           `json:"resolution_note,omitempty"`
	DisputeSessionID   string           `json:"dispute_session_id,omitempty"`
}

func (d *Discovery) clone() *Discovery {
	out := *d
	out.Tags = append([]string(nil), d.Tags...)
	out.RelatedFiles = append([]string(nil), d.RelatedFiles...)
	out.RelatedDiscoveries = append([]string(nil), d.RelatedDiscoveries...)
	if d.ResolvedAt != nil {
		ts := *d.ResolvedAt
		out.ResolvedAt = &ts
	}
	return &out
}

type snapshot struct {
	Discoveries []*Discovery `json:"discoveries"`
}

// Graph is the in-memory graph with secondary indices, persisted as one
// JSON snapshot under the knowledge lock.
type Graph struct {
	layout  *store.Layout
	locks   *locking.Manager
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	discoveries []*Discovery
	byID        map[string]*Discovery
	byTag       map[string][]*Discovery
	byType      map[string][]*Discovery
	byAgent     map[string][]*Discovery
	byStatus    map[string][]*Discovery
}

// Load reads the persisted graph, or starts empty.
func Load(layout *store.Layout, locks *locking.Manager, logger *logging.Logger, m *metrics.Metrics) (*Graph, error) {
	if logger == nil {
		logger = logging.Default()
	}
	g := &Graph{
		layout:  layout,
		locks:   locks,
		logger:  logger,
		metrics: m,
	}
	g.resetIndices()

	var snap snapshot
	err := store.LoadJSON(layout.KnowledgeGraphPath(), &snap)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	for _, d := range snap.Discoveries {
		g.insert(d)
	}
	return g, nil
}

func (g *Graph) resetIndices() {
	g.byID = make(map[string]*Discovery)
	g.byTag = make(map[string][]*Discovery)
	g.byType = make(map[string][]*Discovery)
	g.byAgent = make(map[string][]*Discovery)
	g.byStatus = make(map[string][]*Discovery)
}

// insert adds d to the list and every index. Caller holds the write lock
// (or is still single-threaded during Load).
func (g *Graph) insert(d *Discovery) {
	g.discoveries = append(g.discoveries, d)
	g.byID[d.ID] = d
	for _, tag := range d.Tags {
		g.byTag[tag] = append(g.byTag[tag], d)
	}
	g.byType[d.Type] = append(g.byType[d.Type], d)
	g.byAgent[d.AgentID] = append(g.byAgent[d.AgentID], d)
	g.byStatus[d.Status] = append(g.byStatus[d.Status], d)
}

func (g *Graph) reindexStatus(d *Discovery, oldStatus string) {
	bucket := g.byStatus[oldStatus]
	for i, existing := range bucket {
		if existing == d {
			g.byStatus[oldStatus] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	g.byStatus[d.Status] = append(g.byStatus[d.Status], d)
}

// Count returns the number of discoveries.
func (g *Graph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.discoveries)
}

// newID derives a unique timestamp-based id.
func (g *Graph) newID(at time.Time) string {
	base := fmt.Sprintf("d_%d", at.UnixNano())
	id := base
	for n := 1; ; n++ {
		if _, taken := g.byID[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// StoreInput is the caller-supplied part of a new discovery.
type StoreInput struct {
	AgentID            string
	Type               string
	Summary            string
	Details            string
	Severity           string
	Tags               []string
	RelatedFiles       []string
	RelatedDiscoveries []string
	// Authenticated is true when the caller proved key ownership; high and
	// critical severities require it.
	Authenticated   bool
	CheckDuplicates bool
}

// SimilarResult pairs a discovery with its similarity score.
type SimilarResult struct {
	Discovery *Discovery `json:"discovery"`
	Score     float64    `json:"score"`
}

// Store validates and appends a discovery, updates the indices, and writes
// the snapshot atomically under the knowledge lock. When CheckDuplicates is
// set, similarity warnings come back alongside but never block the store.
func (g *Graph) Store(ctx context.Context, in StoreInput) (*Discovery, []SimilarResult, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return nil, nil, goverrors.MissingParameter("summary")
	}
	if !validTypes[in.Type] {
		return nil, nil, goverrors.InvalidInput("type", "must be one of bug_found, insight, pattern, improvement, question")
	}
	if in.Severity == "" {
		in.Severity = SeverityLow
	}
	if !validSeverities[in.Severity] {
		return nil, nil, goverrors.InvalidInput("severity", "must be one of low, medium, high, critical")
	}
	if (in.Severity == SeverityHigh || in.Severity == SeverityCritical) && !in.Authenticated {
		return nil, nil, goverrors.KeyRequired("store_knowledge_graph").
			WithDetails("reason", "high and critical severities require an authenticated agent")
	}

	var warnings []SimilarResult
	if in.CheckDuplicates {
		warnings = g.FindSimilar(in.Summary, in.Tags, 0.4, 3)
	}

	guard, err := g.locks.Acquire(ctx, locking.KnowledgeLock)
	if err != nil {
		return nil, nil, err
	}
	defer guard.Release()

	g.mu.Lock()
	now := store.Now()
	d := &Discovery{
		ID:                 g.newID(now.Time),
		AgentID:            in.AgentID,
		Type:               in.Type,
		Summary:            strings.TrimSpace(in.Summary),
		Details:            in.Details,
		Severity:           in.Severity,
		Status:             StatusOpen,
		Tags:               normalizeTags(in.Tags),
		RelatedFiles:       in.RelatedFiles,
		RelatedDiscoveries: in.RelatedDiscoveries,
		CreatedAt:          now,
	}
	g.insert(d)
	err = g.persistLocked()
	result := d.clone()
	g.mu.Unlock()

	if err != nil {
		return nil, nil, err
	}
	if g.metrics != nil {
		g.metrics.RecordKnowledgeStore("ok")
	}
	return result, warnings, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// persistLocked writes the snapshot. Caller holds g.mu.
func (g *Graph) persistLocked() error {
	snap := snapshot{Discoveries: g.discoveries}
	if err := store.SaveJSON(g.layout.KnowledgeGraphPath(), snap); err != nil {
		return goverrors.Storage("save knowledge graph", err)
	}
	return nil
}

// Get returns a clone of the discovery.
func (g *Graph) Get(id string) (*Discovery, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.byID[id]
	if !ok {
		return nil, goverrors.DiscoveryNotFound(id)
	}
	return d.clone(), nil
}

// Filters narrow a Search.
type Filters struct {
	AgentID   string
	Type      string
	Tags      []string // AND semantics
	Severity  string
	Status    string
	Text      string // case-insensitive substring over summary+details
	Limit     int    // default 100
	SortBy    string // "timestamp" (default) | "severity"
	SortOrder string // "desc" (default) | "asc"
}

// Search returns clones of matching discoveries.
func (g *Graph) Search(f Filters) []*Discovery {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Start from the narrowest applicable index.
	var candidates []*Discovery
	switch {
	case f.AgentID != "":
		candidates = g.byAgent[f.AgentID]
	case f.Type != "":
		candidates = g.byType[f.Type]
	case len(f.Tags) > 0:
		candidates = g.byTag[strings.ToLower(f.Tags[0])]
	case f.Status != "":
		candidates = g.byStatus[f.Status]
	default:
		candidates = g.discoveries
	}

	text := strings.ToLower(f.Text)
	out := make([]*Discovery, 0, len(candidates))
	for _, d := range candidates {
		if f.AgentID != "" && d.AgentID != f.AgentID {
			continue
		}
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		if f.Severity != "" && d.Severity != f.Severity {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if !hasAllTags(d, f.Tags) {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(d.Summary), text) &&
			!strings.Contains(strings.ToLower(d.Details), text) {
			continue
		}
		out = append(out, d)
	}

	sortDiscoveries(out, f.SortBy, f.SortOrder)

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}

	cloned := make([]*Discovery, len(out))
	for i, d := range out {
		cloned[i] = d.clone()
	}
	return cloned
}

func hasAllTags(d *Discovery, tags []string) bool {
	for _, want := range tags {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		found := false
		for _, has := range d.Tags {
			if has == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortDiscoveries(list []*Discovery, sortBy, order string) {
	desc := order != "asc"
	sort.SliceStable(list, func(i, j int) bool {
		var less bool
		if sortBy == "severity" {
			less = severityRank[list[i].Severity] < severityRank[list[j].Severity]
		} else {
			less = list[i].CreatedAt.Before(list[j].CreatedAt.Time)
		}
		if desc {
			return !less
		}
		return less
	})
}

// tokenize splits text into a lowercase token set.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if len(w) >= 3 {
			tokens[w] = true
		}
	}
	return tokens
}

// similarity is a Jaccard-style score in [0,1] over summary tokens + tags.
func similarity(aTokens map[string]bool, aTags []string, d *Discovery) float64 {
	bTokens := tokenize(d.Summary)
	for _, tag := range d.Tags {
		bTokens[tag] = true
	}
	union := len(bTokens)
	intersection := 0
	merged := make(map[string]bool, len(aTokens))
	for tok := range aTokens {
		merged[tok] = true
	}
	for _, tag := range aTags {
		merged[strings.ToLower(tag)] = true
	}
	for tok := range merged {
		if bTokens[tok] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// FindSimilar scores every discovery against summary+tags, returning those
// at or above threshold, best first.
func (g *Graph) FindSimilar(summary string, tags []string, threshold float64, limit int) []SimilarResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tokens := tokenize(summary)
	var results []SimilarResult
	for _, d := range g.discoveries {
		score := similarity(tokens, tags, d)
		if score >= threshold && score > 0 {
			results = append(results, SimilarResult{Discovery: d.clone(), Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// UpdateStatus moves a discovery to a new status. Disputing requires the
// linking dialectic session id; archived discoveries cannot be disputed.
// Idempotent for an equal status.
func (g *Graph) UpdateStatus(ctx context.Context, id, newStatus, resolutionNote, sessionID string) (*Discovery, error) {
	if !validStatuses[newStatus] {
		return nil, goverrors.InvalidInput("status", "must be one of open, resolved, archived, disputed")
	}
	if newStatus == StatusDisputed && sessionID == "" {
		return nil, goverrors.MissingParameter("session_id")
	}

	guard, err := g.locks.Acquire(ctx, locking.KnowledgeLock)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.byID[id]
	if !ok {
		return nil, goverrors.DiscoveryNotFound(id)
	}
	if d.Status == newStatus && resolutionNote == "" {
		return d.clone(), nil
	}
	if d.Status == StatusArchived && newStatus == StatusDisputed {
		return nil, goverrors.WrongState(StatusArchived, "open or resolved")
	}

	oldStatus := d.Status
	d.Status = newStatus
	if resolutionNote != "" {
		d.ResolutionNote = resolutionNote
	}
	switch newStatus {
	case StatusResolved:
		now := store.Now()
		d.ResolvedAt = &now
	case StatusDisputed:
		d.DisputeSessionID = sessionID
	}
	if oldStatus != newStatus {
		g.reindexStatus(d, oldStatus)
	}

	if err := g.persistLocked(); err != nil {
		return nil, err
	}
	return d.clone(), nil
}

// Relevance surfaces the top discoveries from other agents that overlap the
// caller's current signals. Only open and resolved nodes are considered.
// Cost is O(k) over the tag index buckets touched, plus a scan of the
// open-status bucket when the tags yield fewer than limit candidates.
func (g *Graph) Relevance(agentID string, signalTags []string, text string, limit int) []SimilarResult {
	if limit <= 0 {
		limit = 3
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	tokens := tokenize(text)
	seen := make(map[string]bool)
	var candidates []*Discovery

	for _, tag := range signalTags {
		for _, d := range g.byTag[strings.ToLower(tag)] {
			if d.AgentID == agentID || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			candidates = append(candidates, d)
		}
	}
	// Token overlap with recent open discoveries when tags alone are thin.
	if len(candidates) < limit {
		for _, d := range g.byStatus[StatusOpen] {
			if d.AgentID == agentID || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			candidates = append(candidates, d)
		}
	}

	var results []SimilarResult
	for _, d := range candidates {
		if d.Status != StatusOpen && d.Status != StatusResolved {
			continue
		}
		score := similarity(tokens, signalTags, d)
		if score > 0 {
			results = append(results, SimilarResult{Discovery: d.clone(), Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Stats summarizes the graph for get_knowledge_graph.
type Stats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	Agents     int            `json:"agents"`
	Tags       int            `json:"tags"`
}

// Snapshot returns graph statistics.
func (g *Graph) Snapshot() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{
		Total:      len(g.discoveries),
		ByType:     make(map[string]int),
		ByStatus:   make(map[string]int),
		BySeverity: make(map[string]int),
		Agents:     len(g.byAgent),
		Tags:       len(g.byTag),
	}
	for _, d := range g.discoveries {
		stats.ByType[d.Type]++
		stats.ByStatus[d.Status]++
		stats.BySeverity[d.Severity]++
	}
	return stats
}
