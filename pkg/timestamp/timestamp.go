// Package timestamp parses the time formats rtl_433 emits in its JSON
// records. The decoder is launched with -M time:iso, which yields
// "2006-01-02T15:04:05" (no zone), but records seen in the wild also
// carry full RFC3339, the space-separated default layout, and plain Unix
// seconds (with optional fraction) depending on build options. Parsing
// failures are never fatal to a record; the normalizer falls back to
// ingestion time.
package timestamp

import (
	"strconv"
	"strings"
	"time"
)

// decoderLayouts are tried in order. Zone-less layouts are interpreted
// in local time, matching the decoder's own clock.
var decoderLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Parse converts a decoder-reported time string to a time.Time.
// Returns a zero time and false if the string matches no known layout.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range decoderLayouts {
		if strings.Contains(layout, "Z07") {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		} else {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}

	// -M time:unix produces epoch seconds, optionally fractional.
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		sec := int64(secs)
		nsec := int64((secs - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), true
	}

	return time.Time{}, false
}

// Format renders a time as RFC3339 in UTC for events and logs.
// Zero times render as the empty string.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
