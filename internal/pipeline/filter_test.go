package pipeline

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	reference := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		deadline string
		want     bool
	}{
		{"future deadline", "2025-06-16T23:59:59", false},
		{"deadline today, earlier time of day", "2025-06-15T01:00:00", false},
		{"deadline today, end of day", "2025-06-15T23:59:59", false},
		{"yesterday", "2025-06-14T23:59:59", true},
		{"far future", "2099-12-31T23:59:59", false},
		{"missing", "", true},
		{"unparseable", "not-a-date", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.deadline, reference); got != tt.want {
				t.Errorf("IsExpired(%q, %v) = %v, want %v", tt.deadline, reference, got, tt.want)
			}
		})
	}
}
