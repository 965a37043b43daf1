// Package sources defines the fetch contract for external opportunity feeds
// and the adapters for grants.gov and sam.gov.
package sources

import "context"

// RawRecord is the standardized shape every adapter yields. Deadline carries
// the feed-native format untouched; normalization happens downstream in the
// pipeline.
type RawRecord struct {
	OpportunityID string
	Title         string
	Description   string
	Agency        string
	Deadline      string
	FundingAmount *int64
	NAICSCode     string
	CFDANumbers   []string
	URL           string
	NoticeType    string
}

// Source is one external opportunity feed. Fetch produces a finite, lazy
// sequence of records by calling emit once per record; the sequence is not
// restartable; calling Fetch again re-fetches from the feed.
//
// A parse failure on an individual record is logged and skipped inside the
// adapter. A failure to reach the feed terminates the sequence early and is
// returned as a non-nil error; records already emitted remain valid. If emit
// returns an error, Fetch stops and returns that error.
type Source interface {
	Name() string
	Fetch(ctx context.Context, emit func(RawRecord) error) error
}
