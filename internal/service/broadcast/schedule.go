package broadcast

import (
	"strings"
	"time"
)

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledAt accepts RFC3339, or a zone-less date-time interpreted in
// loc. An empty string means "not scheduled".
func ParseScheduledAt(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	return nil, invalid("scheduled_at", "unrecognized time %q", s)
}

// isImmediate reports whether at falls within window of now.
func isImmediate(at *time.Time, now time.Time, window time.Duration) bool {
	return at == nil || !at.After(now.Add(window))
}
