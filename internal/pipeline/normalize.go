// Package pipeline drives ingestion: deadline normalization, freshness
// filtering, idempotent storage, and per-run accounting.
package pipeline

import (
	"strings"
	"time"

	"github.com/propbot/propbot/internal/storage"
)

// DeadlineLayout is the canonical stored deadline format: ISO 8601 without
// an offset (naive). sam.gov deadlines are converted to UTC before the
// offset is dropped; grants.gov dates are naive to begin with.
const DeadlineLayout = "2006-01-02T15:04:05"

// grantsDateLayout is the grants.gov extract close-date format (MMDDYYYY).
const grantsDateLayout = "01022006"

// samDateLayouts are the offset-carrying formats seen in sam.gov responses.
var samDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// genericDateLayouts is the best-effort fallback for unknown sources or
// malformed feed dates.
var genericDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// NormalizeDeadline converts a feed-native deadline string into the
// canonical DeadlineLayout form. It returns "" for missing or unparseable
// input; callers must treat the two identically.
func NormalizeDeadline(raw, source string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "n/a") {
		return ""
	}

	switch source {
	case storage.SourceGrantsGov:
		return normalizeGrantsDate(raw)
	case storage.SourceSamGov:
		return normalizeSamDate(raw)
	default:
		return normalizeGenericDate(raw)
	}
}

// normalizeGrantsDate parses MMDDYYYY and pins the time to end of day so a
// same-day deadline is not treated as already past.
func normalizeGrantsDate(raw string) string {
	if len(raw) == 8 && isDigits(raw) {
		t, err := time.Parse(grantsDateLayout, raw)
		if err != nil {
			return ""
		}
		return endOfDay(t).Format(DeadlineLayout)
	}
	return normalizeGenericDate(raw)
}

// normalizeSamDate parses an offset-carrying ISO 8601 timestamp, converts it
// to UTC, and drops the offset.
func normalizeSamDate(raw string) string {
	for _, layout := range samDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(DeadlineLayout)
		}
	}
	return normalizeGenericDate(raw)
}

func normalizeGenericDate(raw string) string {
	for _, layout := range genericDateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		t = t.UTC()
		// Midnight means the source carried no time component; default to
		// end of day so the freshness filter keeps same-day deadlines.
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			t = endOfDay(t)
		}
		return t.Format(DeadlineLayout)
	}
	return ""
}

// ParseDeadline parses a canonical deadline string back into a time value.
func ParseDeadline(iso string) (time.Time, error) {
	return time.Parse(DeadlineLayout, iso)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
