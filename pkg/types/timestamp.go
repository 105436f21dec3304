package types

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout is RFC 3339 with millisecond precision, UTC, "Z" suffix —
// the exact wire format mandated by spec §6.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp marshals to/from the wire's millisecond-precision UTC format.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp, truncated to millisecond
// precision and normalized to UTC.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// NewTimestamp normalizes t to UTC with millisecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Round(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		// Tolerate RFC3339Nano for interop with entries written before
		// millisecond truncation was enforced everywhere.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("types: invalid timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool { return t.Time.IsZero() }
