// Package tools exposes the governance layer's external surface: a table of
// tool specs dispatched with authentication, rate limiting, and per-tool
// timeouts.
package tools

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/governance_layer/domain/dialectic"
	"github.com/agentmesh/governance_layer/domain/knowledge"
	"github.com/agentmesh/governance_layer/domain/monitor"
	"github.com/agentmesh/governance_layer/domain/registry"
	"github.com/agentmesh/governance_layer/infrastructure/config"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
	"github.com/agentmesh/governance_layer/infrastructure/metrics"
	"github.com/agentmesh/governance_layer/infrastructure/ratelimit"
	"github.com/agentmesh/governance_layer/infrastructure/store"
)

// Version reported by get_server_info and health_check.
const Version = "1.0.0"

// Service wires every component behind the tool surface. One instance per
// process, created at startup; no hidden global state.
type Service struct {
	cfg     *config.Config
	layout  *store.Layout
	locks   *locking.Manager
	logger  *logging.Logger
	metrics *metrics.Metrics

	registry  *registry.Registry
	graph     *knowledge.Graph
	dialectic *dialectic.Engine
	global    *ratelimit.Global

	thMu       sync.RWMutex
	thresholds config.Thresholds

	monMu    sync.Mutex
	monitors map[string]*monitor.Monitor

	usageMu sync.Mutex
	usage   map[string]*usageStat

	specs     map[string]*Spec
	order     []string
	startedAt time.Time
}

type usageStat struct {
	Calls     int64
	Errors    int64
	durations []time.Duration
}

// NewService builds the full component graph from configuration.
func NewService(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NewFromEnv("governance")
	}

	layout, err := store.NewLayout(cfg.Data.Root)
	if err != nil {
		return nil, err
	}

	m := metrics.Init("governance")
	locks := locking.NewManager(layout.LockDir(), locking.Options{
		Poll:     cfg.Locks.Poll,
		Deadline: cfg.Locks.Deadline,
		StaleAge: cfg.Locks.StaleAge,
	}, logger)

	// Stale locks from dead processes are cleared before anything else runs.
	if reaped, err := locks.ReapStale(); err == nil && len(reaped) > 0 {
		logger.WithFields(map[string]interface{}{"count": len(reaped)}).Info("Reaped stale locks at startup")
	}

	reg, err := registry.LoadRegistry(layout, locks, logger, m, cfg.Data.MetadataDebounce)
	if err != nil {
		return nil, err
	}
	graph, err := knowledge.Load(layout, locks, logger, m)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		layout:     layout,
		locks:      locks,
		logger:     logger,
		metrics:    m,
		registry:   reg,
		graph:      graph,
		global:     ratelimit.NewGlobal(ratelimit.Config{RequestsPerSecond: cfg.Server.GlobalRPS, Burst: cfg.Server.GlobalBurst}),
		thresholds: cfg.Threshold,
		monitors:   make(map[string]*monitor.Monitor),
		usage:      make(map[string]*usageStat),
	}
	s.startedAt = time.Now()

	engine, err := dialectic.LoadEngine(layout, locks, logger, m, reg, graph, s, cfg.Dialectic)
	if err != nil {
		return nil, err
	}
	s.dialectic = engine

	s.registerTools()
	return s, nil
}

// Close flushes pending writes.
func (s *Service) Close(ctx context.Context) error {
	return s.registry.Close(ctx)
}

// Thresholds returns the live threshold set.
func (s *Service) Thresholds() config.Thresholds {
	s.thMu.RLock()
	defer s.thMu.RUnlock()
	return s.thresholds
}

func (s *Service) setThresholds(th config.Thresholds) {
	s.thMu.Lock()
	s.thresholds = th
	s.thMu.Unlock()
}

// Registry exposes the agent registry (used by the maintenance scheduler).
func (s *Service) Registry() *registry.Registry { return s.registry }

// Dialectic exposes the dialectic engine (used by the maintenance scheduler).
func (s *Service) Dialectic() *dialectic.Engine { return s.dialectic }

// Locks exposes the lock manager (used by the maintenance scheduler).
func (s *Service) Locks() *locking.Manager { return s.locks }

// Metrics exposes the collectors.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// GlobalLimiter exposes the server-wide admission limiter.
func (s *Service) GlobalLimiter() *ratelimit.Global { return s.global }

// StartedAt reports process start for uptime accounting.
func (s *Service) StartedAt() time.Time { return s.startedAt }

// getMonitor returns the cached monitor for an agent, loading from disk on
// first touch. Callers mutate it only under the agent's file lock.
func (s *Service) getMonitor(agentID string) (*monitor.Monitor, error) {
	s.monMu.Lock()
	defer s.monMu.Unlock()
	if mon, ok := s.monitors[agentID]; ok {
		return mon, nil
	}
	mon, err := monitor.Load(s.layout, agentID, s.Thresholds())
	if err != nil {
		return nil, err
	}
	s.monitors[agentID] = mon
	return mon, nil
}

func (s *Service) dropMonitor(agentID string) {
	s.monMu.Lock()
	delete(s.monitors, agentID)
	s.monMu.Unlock()
}

// AgentSignals implements dialectic.SignalSource from the live monitors.
func (s *Service) AgentSignals(agentID string) (float64, float64, bool) {
	mon, err := s.getMonitor(agentID)
	if err != nil {
		return 0, 0, false
	}
	st := mon.State()
	if st.UpdateCount == 0 {
		return st.Coherence, 0, true
	}
	return st.Coherence, mon.MeanAttention(10), true
}

func (s *Service) recordUsage(tool string, duration time.Duration, err error) {
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	stat, ok := s.usage[tool]
	if !ok {
		stat = &usageStat{}
		s.usage[tool] = stat
	}
	stat.Calls++
	if err != nil {
		stat.Errors++
	}
	stat.durations = append(stat.durations, duration)
	if len(stat.durations) > 512 {
		stat.durations = stat.durations[len(stat.durations)-512:]
	}
}
