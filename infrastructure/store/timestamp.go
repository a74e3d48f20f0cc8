package store

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the persisted timestamp format: ISO-8601 UTC without a zone
// suffix, microsecond precision.
const TimeLayout = "2006-01-02T15:04:05.999999"

// Timestamp is a time.Time that serializes in TimeLayout. All values are
// normalized to UTC.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC instant.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// At wraps an existing time.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(TimeLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts the native layout plus
// RFC3339 variants for compatibility.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

// Sub returns the duration t - other.
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return t.Time.Sub(other.Time)
}
