// Package search merges semantic and keyword retrieval into the bucketed
// response served by the API: grants, contracts, and RFIs.
package search

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/propbot/propbot/internal/index"
	"github.com/propbot/propbot/internal/storage"
)

// Search modes reported in responses.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// DefaultMinScore discards semantic matches with near-zero similarity.
const DefaultMinScore = 0.1

// Semantic is the vector search contract the merge service consumes.
type Semantic interface {
	Available() bool
	SearchWithDetails(ctx context.Context, store index.RecordStore, query string, k int, sourceFilter string, minScore float32) ([]index.ScoredOpportunity, error)
}

// Result is one search hit in API shape. Score is zero in keyword mode.
type Result struct {
	OpportunityID string   `json:"opportunity_id"`
	Source        string   `json:"source"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Agency        string   `json:"agency,omitempty"`
	Deadline      string   `json:"deadline,omitempty"`
	FundingAmount *int64   `json:"funding_amount,omitempty"`
	NAICSCode     string   `json:"naics_code,omitempty"`
	CFDANumbers   []string `json:"cfda_numbers,omitempty"`
	URL           string   `json:"url,omitempty"`
	NoticeType    string   `json:"notice_type,omitempty"`
	Score         float32  `json:"score,omitempty"`
}

// Response groups search hits into the three opportunity buckets.
type Response struct {
	Query     string   `json:"query"`
	Grants    []Result `json:"grants"`
	Contracts []Result `json:"contracts"`
	RFIs      []Result `json:"rfis"`
	Mode      string   `json:"search_mode"`
}

// Options narrows a search.
type Options struct {
	// Source restricts results to one feed ("grants.gov" or "sam.gov").
	// Empty means both.
	Source string
	// Limit caps each bucket. Zero means the default of 10.
	Limit int
	// KeywordOnly forces keyword matching even when the index is usable.
	KeywordOnly bool
}

// Service answers bucketed searches, preferring semantic retrieval and
// degrading to keyword LIKE matching when the vector index cannot serve.
type Service struct {
	store    *storage.Store
	semantic Semantic
	minScore float32
	logger   *slog.Logger
}

// NewService creates a search service. semantic may be nil, in which case
// every search runs in keyword mode.
func NewService(store *storage.Store, semantic Semantic) *Service {
	return &Service{
		store:    store,
		semantic: semantic,
		minScore: DefaultMinScore,
		logger:   slog.Default().With("component", "search"),
	}
}

// Search runs one bucketed query. RFIs are retrieved by keyword in both
// modes because their notice-type partition is exact, not semantic; they are
// sam.gov records, so a grants-only filter leaves the bucket empty.
func (s *Service) Search(ctx context.Context, query string, opts Options) (Response, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	resp := Response{Query: query, Mode: ModeKeyword}
	useSemantic := !opts.KeywordOnly && s.semantic != nil && s.semantic.Available()

	if useSemantic {
		grants, contracts, err := s.semanticBuckets(ctx, query, opts.Source, limit)
		if err != nil {
			s.logger.Warn("semantic search failed, falling back to keyword", "error", err)
		} else {
			resp.Mode = ModeSemantic
			resp.Grants = grants
			resp.Contracts = contracts
		}
	}

	if resp.Mode == ModeKeyword {
		grants, contracts, err := s.keywordBuckets(ctx, query, opts.Source, limit)
		if err != nil {
			return Response{}, err
		}
		resp.Grants = grants
		resp.Contracts = contracts
	}

	if opts.Source != storage.SourceGrantsGov {
		rfis, err := s.store.SearchRFIs(ctx, query, limit)
		if err != nil {
			return Response{}, err
		}
		resp.RFIs = toResults(rfis, nil)
	}
	return resp, nil
}

// semanticBuckets retrieves the grant and contract buckets from the vector
// index. Contracts are overfetched because RFI notice types are excluded
// after retrieval.
func (s *Service) semanticBuckets(ctx context.Context, query, source string, limit int) (grants, contracts []Result, err error) {
	if source != storage.SourceSamGov {
		hits, err := s.semantic.SearchWithDetails(ctx, s.store, query, limit, storage.SourceGrantsGov, s.minScore)
		if err != nil {
			return nil, nil, err
		}
		grants = scoredToResults(hits)
	}

	if source != storage.SourceGrantsGov {
		hits, err := s.semantic.SearchWithDetails(ctx, s.store, query, limit*2, storage.SourceSamGov, s.minScore)
		if err != nil {
			return nil, nil, err
		}
		for _, hit := range hits {
			if storage.IsRFINoticeType(hit.NoticeType) {
				continue
			}
			contracts = append(contracts, toResult(hit.Opportunity, hit.Score))
			if len(contracts) == limit {
				break
			}
		}
	}
	return grants, contracts, nil
}

// keywordBuckets retrieves the grant and contract buckets with LIKE matching.
func (s *Service) keywordBuckets(ctx context.Context, query, source string, limit int) (grants, contracts []Result, err error) {
	if source != storage.SourceSamGov {
		rows, err := s.store.SearchGrantsKeyword(ctx, query, limit)
		if err != nil {
			return nil, nil, err
		}
		grants = toResults(rows, nil)
	}
	if source != storage.SourceGrantsGov {
		rows, err := s.store.SearchContractsKeyword(ctx, query, limit)
		if err != nil {
			return nil, nil, err
		}
		contracts = toResults(rows, nil)
	}
	return grants, contracts, nil
}

func scoredToResults(hits []index.ScoredOpportunity) []Result {
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, toResult(hit.Opportunity, hit.Score))
	}
	return results
}

func toResults(rows []storage.Opportunity, scores map[string]float32) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, toResult(row, scores[row.OpportunityID]))
	}
	return results
}

func toResult(op storage.Opportunity, score float32) Result {
	var cfda []string
	if op.CFDANumbers != "" {
		// Stored as a JSON array; ignore rows with legacy plain-text values.
		_ = json.Unmarshal([]byte(op.CFDANumbers), &cfda)
	}
	return Result{
		OpportunityID: op.OpportunityID,
		Source:        op.Source,
		Title:         op.Title,
		Description:   op.Description,
		Agency:        op.Agency,
		Deadline:      op.Deadline,
		FundingAmount: op.FundingAmount,
		NAICSCode:     op.NAICSCode,
		CFDANumbers:   cfda,
		URL:           op.URL,
		NoticeType:    op.NoticeType,
		Score:         score,
	}
}
