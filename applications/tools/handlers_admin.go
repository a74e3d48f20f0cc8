package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/agentmesh/governance_layer/domain/monitor"
	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
)

func (s *Service) handleGetThresholds(ctx context.Context, inv *Invocation) (interface{}, error) {
	return s.Thresholds(), nil
}

type setThresholdsRequest struct {
	AgentID string `json:"agent_id"`

	CoherenceCritical *float64 `json:"coherence_critical"`
	VoidThreshold     *float64 `json:"void_threshold"`
	RiskRevise        *float64 `json:"risk_revise"`
	RiskApprove       *float64 `json:"risk_approve"`
	TargetCoherence   *float64 `json:"target_coherence"`

	HealthyMeanAttention  *float64 `json:"healthy_mean_attention"`
	HealthyMinCoherence   *float64 `json:"healthy_min_coherence"`
	ModerateMeanAttention *float64 `json:"moderate_mean_attention"`

	ControllerKp *float64 `json:"controller_kp"`
	ControllerKi *float64 `json:"controller_ki"`
}

// handleSetThresholds applies a partial threshold update. Callers whose own
// metrics are degraded are rejected: a struggling agent must not loosen the
// guardrails around itself.
func (s *Service) handleSetThresholds(ctx context.Context, inv *Invocation) (interface{}, error) {
	var req setThresholdsRequest
	if err := inv.Bind(&req); err != nil {
		return nil, err
	}

	mon, err := s.getMonitor(inv.AgentID)
	if err != nil {
		return nil, err
	}
	th := s.Thresholds()
	if mon.HealthStatus(th) == monitor.HealthCritical {
		return nil, goverrors.AdminForbidden("caller health is critical")
	}
	if mon.CurrentAttention() > th.RiskRevise {
		return nil, goverrors.AdminForbidden("caller attention exceeds the revise threshold")
	}

	next := th
	apply := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&next.CoherenceCritical, req.CoherenceCritical)
	apply(&next.VoidThreshold, req.VoidThreshold)
	apply(&next.RiskRevise, req.RiskRevise)
	apply(&next.RiskApprove, req.RiskApprove)
	apply(&next.TargetCoherence, req.TargetCoherence)
	apply(&next.HealthyMeanAttention, req.HealthyMeanAttention)
	apply(&next.HealthyMinCoherence, req.HealthyMinCoherence)
	apply(&next.ModerateMeanAttention, req.ModerateMeanAttention)
	apply(&next.ControllerKp, req.ControllerKp)
	apply(&next.ControllerKi, req.ControllerKi)

	if err := next.Validate(); err != nil {
		return nil, goverrors.InvalidInput("thresholds", err.Error())
	}
	s.setThresholds(next)
	s.logger.LogAudit(ctx, "set_thresholds", "thresholds", "", "applied")
	return next, nil
}

func (s *Service) handleHealthCheck(ctx context.Context, inv *Invocation) (interface{}, error) {
	sessionCounts := s.dialectic.SessionCount()
	sessions := make(map[string]int, len(sessionCounts))
	for state, n := range sessionCounts {
		sessions[string(state)] = n
	}
	return map[string]interface{}{
		"status":      "healthy",
		"version":     Version,
		"uptime":      time.Since(s.startedAt).String(),
		"agents":      s.registry.Count(),
		"discoveries": s.graph.Count(),
		"sessions":    sessions,
		"datetime":    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) handleGetServerInfo(ctx context.Context, inv *Invocation) (interface{}, error) {
	info := map[string]interface{}{
		"version":    Version,
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"uptime":     time.Since(s.startedAt).String(),
		"started_at": s.startedAt.UTC().Format(time.RFC3339),
		"data_root":  s.cfg.Data.Root,
		"tool_count": len(s.specs),
		"pid":        os.Getpid(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			info["rss"] = humanize.Bytes(mem.RSS)
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			info["cpu_percent"] = cpu
		}
	}
	return info, nil
}

func (s *Service) handleCleanupStaleLocks(ctx context.Context, inv *Invocation) (interface{}, error) {
	reaped, err := s.locks.ReapStale()
	if err != nil {
		return nil, goverrors.Storage("reap locks", err)
	}
	if reaped == nil {
		reaped = []string{}
	}
	return map[string]interface{}{"reaped": reaped, "count": len(reaped)}, nil
}

func (s *Service) handleListTools(ctx context.Context, inv *Invocation) (interface{}, error) {
	type toolInfo struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		RequiresAuth bool   `json:"requires_auth"`
		RateClass    string `json:"rate_class,omitempty"`
		TimeoutSecs  int    `json:"timeout_seconds"`
	}
	out := make([]toolInfo, 0, len(s.specs))
	for _, spec := range s.Specs() {
		out = append(out, toolInfo{
			Name:         spec.Name,
			Description:  spec.Description,
			RequiresAuth: spec.RequiresAuth,
			RateClass:    spec.RateClass,
			TimeoutSecs:  int(spec.Timeout.Seconds()),
		})
	}
	return map[string]interface{}{"tools": out, "count": len(out)}, nil
}

func (s *Service) handleToolUsageStats(ctx context.Context, inv *Invocation) (interface{}, error) {
	type stat struct {
		Tool   string `json:"tool"`
		Calls  int64  `json:"calls"`
		Errors int64  `json:"errors"`
		P50ms  int64  `json:"p50_ms"`
		P95ms  int64  `json:"p95_ms"`
	}

	s.usageMu.Lock()
	out := make([]stat, 0, len(s.usage))
	for tool, u := range s.usage {
		entry := stat{Tool: tool, Calls: u.Calls, Errors: u.Errors}
		if len(u.durations) > 0 {
			sorted := append([]time.Duration(nil), u.durations...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			entry.P50ms = sorted[len(sorted)/2].Milliseconds()
			entry.P95ms = sorted[(len(sorted)*95)/100].Milliseconds()
		}
		out = append(out, entry)
	}
	s.usageMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Calls > out[j].Calls })
	return map[string]interface{}{"tools": out}, nil
}

func (s *Service) handleWorkspaceHealth(ctx context.Context, inv *Invocation) (interface{}, error) {
	root := s.cfg.Data.Root

	var totalBytes int64
	var fileCount int
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		totalBytes += info.Size()
		fileCount++
		return nil
	})

	out := map[string]interface{}{
		"data_root":  root,
		"files":      fileCount,
		"used":       humanize.Bytes(uint64(totalBytes)),
		"used_bytes": totalBytes,
	}

	if usage, err := disk.Usage(root); err == nil && usage != nil {
		out["disk_total"] = humanize.Bytes(usage.Total)
		out["disk_free"] = humanize.Bytes(usage.Free)
		out["disk_used_percent"] = usage.UsedPercent
	}

	lockEntries, err := os.ReadDir(s.layout.LockDir())
	if err == nil {
		out["live_locks"] = len(lockEntries)
	}
	return out, nil
}
