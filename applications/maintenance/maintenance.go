// Package maintenance runs the periodic housekeeping sweeps: stale-lock
// reaping, dialectic timeout detection, and gauge refresh.
package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentmesh/governance_layer/domain/dialectic"
	"github.com/agentmesh/governance_layer/infrastructure/locking"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
	"github.com/agentmesh/governance_layer/infrastructure/metrics"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron      *cron.Cron
	logger    *logging.Logger
	metrics   *metrics.Metrics
	locks     *locking.Manager
	dialectic *dialectic.Engine
	startedAt time.Time
}

// New builds the scheduler with its standard jobs registered.
func New(logger *logging.Logger, m *metrics.Metrics, locks *locking.Manager, engine *dialectic.Engine, startedAt time.Time) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scheduler{
		cron:      cron.New(),
		logger:    logger,
		metrics:   m,
		locks:     locks,
		dialectic: engine,
		startedAt: startedAt,
	}

	if _, err := s.cron.AddFunc("@every 5m", s.reapLocks); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@every 10m", s.sweepDialectic); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@every 30s", s.refreshGauges); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule, waiting for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) reapLocks() {
	reaped, err := s.locks.ReapStale()
	if err != nil {
		s.logger.WithError(err).Warn("stale lock sweep failed")
		return
	}
	if len(reaped) > 0 {
		s.logger.WithFields(map[string]interface{}{"count": len(reaped)}).Info("Reaped stale locks")
	}
}

func (s *Scheduler) sweepDialectic() {
	if n := s.dialectic.SweepTimeouts(); n > 0 {
		s.logger.WithFields(map[string]interface{}{"count": n}).Info("Timed out dialectic sessions")
	}
}

func (s *Scheduler) refreshGauges() {
	if s.metrics != nil {
		s.metrics.UpdateUptime(s.startedAt)
	}
}
