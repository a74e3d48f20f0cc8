package registry

import (
	"time"
)

// PatternMatch describes a tripped loop pattern.
type PatternMatch struct {
	Name     string
	Cooldown time.Duration
}

// Loop patterns, evaluated in order on every update before integration.
// First match wins. The incoming attempt itself counts toward the window.
var loopPatterns = []struct {
	name     string
	cooldown time.Duration
	match    func(now time.Time, within func(time.Duration) int, pausesIn func(time.Duration) int, decisions []string) bool
}{
	{
		name:     "rapid-fire",
		cooldown: 5 * time.Second,
		match: func(_ time.Time, within func(time.Duration) int, _ func(time.Duration) int, _ []string) bool {
			return within(300*time.Millisecond) >= 2
		},
	},
	{
		name:     "recursive-pause",
		cooldown: 15 * time.Second,
		match: func(_ time.Time, within func(time.Duration) int, pausesIn func(time.Duration) int, _ []string) bool {
			return within(10*time.Second) >= 3 && pausesIn(10*time.Second) >= 2
		},
	},
	{
		name:     "rapid-with-pauses",
		cooldown: 15 * time.Second,
		match: func(_ time.Time, within func(time.Duration) int, pausesIn func(time.Duration) int, _ []string) bool {
			return within(5*time.Second) >= 4 && pausesIn(5*time.Second) >= 1
		},
	},
	{
		name:     "decision-loop",
		cooldown: 30 * time.Second,
		match: func(_ time.Time, _ func(time.Duration) int, _ func(time.Duration) int, decisions []string) bool {
			return allRecent(decisions, "pause", 5) || allRecent(decisions, "proceed", 15)
		},
	},
	{
		name:     "slow-stuck",
		cooldown: 30 * time.Second,
		match: func(_ time.Time, within func(time.Duration) int, pausesIn func(time.Duration) int, _ []string) bool {
			return within(60*time.Second) >= 3 && pausesIn(60*time.Second) >= 1
		},
	},
	{
		name:     "extended",
		cooldown: 30 * time.Second,
		match: func(_ time.Time, within func(time.Duration) int, pausesIn func(time.Duration) int, _ []string) bool {
			return within(120*time.Second) >= 5 && pausesIn(120*time.Second) >= 1
		},
	},
}

func allRecent(decisions []string, action string, n int) bool {
	if len(decisions) < n {
		return false
	}
	for _, d := range decisions[len(decisions)-n:] {
		if d != action {
			return false
		}
	}
	return true
}

// DetectLoop evaluates the loop patterns for an update arriving at now,
// given the agent's past update instants and decision ring. Returns nil when
// no pattern trips.
func DetectLoop(now time.Time, pastUpdates []time.Time, decisions []string) *PatternMatch {
	// within counts past updates inside the window plus the incoming attempt.
	within := func(window time.Duration) int {
		cutoff := now.Add(-window)
		count := 1
		for _, ts := range pastUpdates {
			if !ts.Before(cutoff) && !ts.After(now) {
				count++
			}
		}
		return count
	}

	// pausesIn counts pause decisions among the past updates in the window.
	// Decisions and timestamps append together, so align from the tail.
	pausesIn := func(window time.Duration) int {
		cutoff := now.Add(-window)
		count := 0
		n := len(pastUpdates)
		if len(decisions) < n {
			n = len(decisions)
		}
		for i := 0; i < n; i++ {
			ts := pastUpdates[len(pastUpdates)-1-i]
			if ts.Before(cutoff) {
				break
			}
			if decisions[len(decisions)-1-i] == "pause" {
				count++
			}
		}
		return count
	}

	for _, p := range loopPatterns {
		if p.match(now, within, pausesIn, decisions) {
			return &PatternMatch{Name: p.name, Cooldown: p.cooldown}
		}
	}
	return nil
}
