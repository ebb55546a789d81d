package storage

import (
	"fmt"
	"time"
)

// runAtLayout is fixed width so that lexical order of the TEXT column is
// chronological order.
const runAtLayout = "2006-01-02T15:04:05.000000000Z"

// Older databases were written with these layouts.
var legacyRunAtLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

func formatRunAt(t time.Time) string {
	return t.UTC().Format(runAtLayout)
}

func parseRunAt(s string) (time.Time, error) {
	if t, err := time.Parse(runAtLayout, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyRunAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid run_at %q", s)
}
