package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalAllow(t *testing.T) {
	g := NewGlobal(Config{RequestsPerSecond: 1, Burst: 2})

	assert.True(t, g.Allow())
	assert.True(t, g.Allow())
	assert.False(t, g.Allow(), "burst exhausted")

	g.Reset()
	assert.True(t, g.Allow())
}

func TestGlobalDefaults(t *testing.T) {
	g := NewGlobal(Config{})
	assert.Equal(t, float64(100), g.config.RequestsPerSecond)
	assert.Equal(t, 200, g.config.Burst)
}

func TestWindowAllowsUnderLimit(t *testing.T) {
	w := Window{Limit: 10, Period: time.Hour}
	now := time.Now()

	var events []time.Time
	for i := 0; i < 9; i++ {
		events = append(events, now.Add(-time.Duration(i)*time.Minute))
	}

	d := w.Check(now, events)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestWindowDeniesAtLimit(t *testing.T) {
	w := Window{Limit: 10, Period: time.Hour}
	now := time.Now()

	var events []time.Time
	for i := 0; i < 10; i++ {
		events = append(events, now.Add(-time.Duration(i)*time.Minute))
	}

	d := w.Check(now, events)
	require.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// Oldest event is 9 minutes old, so the window frees up 51 minutes from now.
	expected := now.Add(-9 * time.Minute).Add(time.Hour)
	assert.WithinDuration(t, expected, d.ResetAt, time.Second)
}

func TestWindowExpiredEventsIgnored(t *testing.T) {
	w := Window{Limit: 10, Period: time.Hour}
	now := time.Now()

	var events []time.Time
	for i := 0; i < 10; i++ {
		events = append(events, now.Add(-2*time.Hour))
	}

	d := w.Check(now, events)
	assert.True(t, d.Allowed)
	assert.Equal(t, 10, d.Remaining)
}

func TestWindowEleventhRejected(t *testing.T) {
	// The knowledge-store scenario: 10 succeed inside an hour, the 11th is
	// rejected, and an hour later stores succeed again.
	w := Window{Limit: 10, Period: time.Hour}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events []time.Time
	for i := 0; i < 10; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		d := w.Check(now, events)
		require.True(t, d.Allowed, "store %d", i+1)
		events = append(events, now)
	}

	now := base.Add(11 * time.Minute)
	d := w.Check(now, events)
	require.False(t, d.Allowed)
	assert.Equal(t, base.Add(time.Hour), d.ResetAt)

	later := base.Add(time.Hour + 10*time.Minute)
	d = w.Check(later, events)
	assert.True(t, d.Allowed)
}

func TestWindowZeroConfigAllows(t *testing.T) {
	d := Window{}.Check(time.Now(), nil)
	assert.True(t, d.Allowed)
}

func TestTrim(t *testing.T) {
	w := Window{Limit: 3, Period: time.Minute}
	now := time.Now()
	events := []time.Time{
		now.Add(-2 * time.Minute), // expired
		now.Add(-50 * time.Second),
		now.Add(-40 * time.Second),
		now.Add(-30 * time.Second),
		now.Add(-10 * time.Second),
	}

	kept := w.Trim(now, events)
	require.Len(t, kept, 3)
	assert.Equal(t, now.Add(-40*time.Second), kept[0])
	assert.Equal(t, now.Add(-10*time.Second), kept[2])
}
