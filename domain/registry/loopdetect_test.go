package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ago(now time.Time, d time.Duration) time.Time { return now.Add(-d) }

func TestRapidFire(t *testing.T) {
	now := time.Now()
	match := DetectLoop(now, []time.Time{ago(now, 200*time.Millisecond)}, []string{"proceed"})
	require.NotNil(t, match)
	assert.Equal(t, "rapid-fire", match.Name)
	assert.Equal(t, 5*time.Second, match.Cooldown)
}

func TestRapidFireNotTrippedWhenSlow(t *testing.T) {
	now := time.Now()
	match := DetectLoop(now, []time.Time{ago(now, 2 * time.Second)}, []string{"proceed"})
	assert.Nil(t, match)
}

func TestRecursivePause(t *testing.T) {
	now := time.Now()
	updates := []time.Time{ago(now, 8*time.Second), ago(now, 4*time.Second)}
	decisions := []string{"pause", "pause"}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "recursive-pause", match.Name)
	assert.Equal(t, 15*time.Second, match.Cooldown)
}

func TestRapidWithPauses(t *testing.T) {
	now := time.Now()
	updates := []time.Time{ago(now, 4*time.Second), ago(now, 3*time.Second), ago(now, 2*time.Second)}
	decisions := []string{"proceed", "pause", "proceed"}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "rapid-with-pauses", match.Name)
}

func TestDecisionLoopAllPause(t *testing.T) {
	now := time.Now()
	// Spread far apart so no timing pattern matches first.
	var updates []time.Time
	decisions := make([]string, 5)
	for i := 0; i < 5; i++ {
		updates = append(updates, ago(now, time.Duration(40-i*5)*time.Minute))
		decisions[i] = "pause"
	}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "decision-loop", match.Name)
	assert.Equal(t, 30*time.Second, match.Cooldown)
}

func TestDecisionLoopAllProceed(t *testing.T) {
	now := time.Now()
	var updates []time.Time
	decisions := make([]string, 15)
	for i := 0; i < 15; i++ {
		updates = append(updates, ago(now, time.Duration(120-i*5)*time.Minute))
		decisions[i] = "proceed"
	}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "decision-loop", match.Name)
}

func TestDecisionLoopNeedsFullRun(t *testing.T) {
	now := time.Now()
	decisions := []string{"pause", "pause", "proceed", "pause", "pause"}
	match := DetectLoop(now, nil, decisions)
	assert.Nil(t, match)
}

func TestSlowStuck(t *testing.T) {
	now := time.Now()
	updates := []time.Time{ago(now, 50*time.Second), ago(now, 30*time.Second)}
	decisions := []string{"pause", "proceed"}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "slow-stuck", match.Name)
	assert.Equal(t, 30*time.Second, match.Cooldown)
}

func TestExtended(t *testing.T) {
	now := time.Now()
	updates := []time.Time{
		ago(now, 110*time.Second),
		ago(now, 100*time.Second),
		ago(now, 90*time.Second),
		ago(now, 80*time.Second),
	}
	decisions := []string{"pause", "proceed", "proceed", "proceed"}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "extended", match.Name)
}

func TestFirstMatchWins(t *testing.T) {
	now := time.Now()
	// Rapid updates with pauses trip several patterns; rapid-fire is first.
	updates := []time.Time{
		ago(now, 100*time.Millisecond),
		ago(now, 200*time.Millisecond),
		ago(now, 250*time.Millisecond),
	}
	decisions := []string{"pause", "pause", "pause"}

	match := DetectLoop(now, updates, decisions)
	require.NotNil(t, match)
	assert.Equal(t, "rapid-fire", match.Name)
}

func TestNoMatchOnHealthyCadence(t *testing.T) {
	now := time.Now()
	var updates []time.Time
	var decisions []string
	for i := 0; i < 10; i++ {
		updates = append(updates, ago(now, time.Duration(10*(i+1))*time.Minute))
		if i%2 == 0 {
			decisions = append(decisions, "proceed")
		} else {
			decisions = append(decisions, "pause")
		}
	}
	assert.Nil(t, DetectLoop(now, updates, decisions))
}

func TestEmptyHistoryNoMatch(t *testing.T) {
	assert.Nil(t, DetectLoop(time.Now(), nil, nil))
}
