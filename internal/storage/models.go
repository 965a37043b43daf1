package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunFinalized is returned when finalizing an ingest run that has already
// reached a terminal status.
var ErrRunFinalized = errors.New("ingest run already finalized")

// Known source names. The source column only ever holds one of these.
const (
	SourceGrantsGov = "grants.gov"
	SourceSamGov    = "sam.gov"
)

// RFINoticeTypes are the sam.gov notice types treated as requests for
// information rather than solicitations.
var RFINoticeTypes = []string{"Sources Sought", "Special Notice"}

// IsRFINoticeType reports whether a notice type designates an RFI.
func IsRFINoticeType(noticeType string) bool {
	for _, t := range RFINoticeTypes {
		if noticeType == t {
			return true
		}
	}
	return false
}

// Opportunity is the canonical stored record for a funding opportunity.
// OpportunityID is the feed-assigned identifier and is unique across the
// table; re-ingesting the same identifier updates the row in place.
// Empty strings stand for absent text fields; FundingAmount is nil when the
// feed did not supply an amount. Deadline is a naive ISO 8601 timestamp
// ("2006-01-02T15:04:05") or empty when missing/unparseable.
type Opportunity struct {
	ID            int64
	OpportunityID string
	Source        string
	Title         string
	Description   string
	Agency        string
	Deadline      string
	FundingAmount *int64
	NAICSCode     string
	CFDANumbers   string // JSON array stored as text
	URL           string
	NoticeType    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// IngestRun records one pipeline invocation against one source.
type IngestRun struct {
	ID                        string
	Source                    string
	StartedAt                 time.Time
	CompletedAt               time.Time
	Status                    string
	RecordsFetched            int
	RecordsFilteredExpired    int
	RecordsFilteredCapability int // retained for schema compatibility, unused by the current filter policy
	RecordsInserted           int
	RecordsUpdated            int
	ErrorMessage              string
}

// UpsertResult tells whether an upsert created a new row or touched an
// existing one.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Updated
)

func (r UpsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "updated"
}
