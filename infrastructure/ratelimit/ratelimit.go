// Package ratelimit provides the two limiter shapes used by the governance
// layer: a global token bucket protecting the dispatcher, and per-agent
// sliding windows over persisted timestamp rings.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the global dispatcher limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the standard global limiter configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		Burst:             200,
	}
}

// Global wraps golang.org/x/time/rate for whole-server admission control.
type Global struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	config  Config
}

// NewGlobal creates a global limiter.
func NewGlobal(cfg Config) *Global {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Global{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether one more request may pass now.
func (g *Global) Allow() bool {
	return g.limiter.Allow()
}

// Wait blocks until a slot is available or ctx is done.
func (g *Global) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Reset restores the limiter to its configured state.
func (g *Global) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiter = rate.NewLimiter(rate.Limit(g.config.RequestsPerSecond), g.config.Burst)
}

// Window is a sliding-window decision over a ring of event timestamps. The
// ring itself lives in agent metadata (persisted with the agent record); this
// package only implements the arithmetic so the policy is testable alone.
type Window struct {
	Limit  int
	Period time.Duration
}

// Decision is the outcome of a window check.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest in-window event leaves the window; only
	// meaningful when the call was denied.
	ResetAt time.Time
}

// Check evaluates the window against the events, without recording anything.
func (w Window) Check(now time.Time, events []time.Time) Decision {
	if w.Limit <= 0 || w.Period <= 0 {
		return Decision{Allowed: true, Remaining: 1}
	}

	cutoff := now.Add(-w.Period)
	inWindow := make([]time.Time, 0, len(events))
	for _, ts := range events {
		if ts.After(cutoff) {
			inWindow = append(inWindow, ts)
		}
	}

	if len(inWindow) < w.Limit {
		return Decision{Allowed: true, Remaining: w.Limit - len(inWindow)}
	}

	oldest := inWindow[0]
	for _, ts := range inWindow[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return Decision{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   oldest.Add(w.Period),
	}
}

// Trim returns the events still inside the window, capped at limit entries
// (newest kept). Use before persisting a ring so it never grows unbounded.
func (w Window) Trim(now time.Time, events []time.Time) []time.Time {
	cutoff := now.Add(-w.Period)
	kept := make([]time.Time, 0, len(events))
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if w.Limit > 0 && len(kept) > w.Limit {
		kept = kept[len(kept)-w.Limit:]
	}
	return kept
}
