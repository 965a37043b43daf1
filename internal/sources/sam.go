package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/propbot/propbot/internal/storage"
)

// SamGov fetches contract opportunities from the sam.gov opportunities API.
// The API is paginated and rate limited; the adapter walks pages for a
// posted-date window, sleeping a fixed delay between page requests.
type SamGov struct {
	baseURL   string
	apiKey    string
	pageSize  int
	daysBack  int
	pageDelay time.Duration
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
}

// SamGovConfig carries adapter settings; zero values get sensible defaults.
type SamGovConfig struct {
	BaseURL   string
	APIKey    string
	PageSize  int
	DaysBack  int
	PageDelay time.Duration
	Client    *http.Client
}

// NewSamGov creates a sam.gov adapter.
func NewSamGov(cfg SamGovConfig) *SamGov {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 90
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &SamGov{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageSize:  cfg.PageSize,
		daysBack:  cfg.DaysBack,
		pageDelay: cfg.PageDelay,
		client:    cfg.Client,
		logger:    slog.Default().With("source", storage.SourceSamGov),
		now:       time.Now,
	}
}

func (s *SamGov) Name() string {
	return storage.SourceSamGov
}

// samResponse is the page envelope returned by the opportunities API.
type samResponse struct {
	TotalRecords      int           `json:"totalRecords"`
	OpportunitiesData []samContract `json:"opportunitiesData"`
}

type samContract struct {
	NoticeID           string          `json:"noticeId"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Department         string          `json:"department"`
	FullParentPathName string          `json:"fullParentPathName"`
	ResponseDeadLine   string          `json:"responseDeadLine"`
	ArchiveDate        string          `json:"archiveDate"`
	NaicsCode          json.RawMessage `json:"naicsCode"`
	Type               string          `json:"type"`
}

// Fetch walks API pages for the configured posted-date window. A request
// failure terminates the sequence and is returned; records already emitted
// from earlier pages remain valid.
func (s *SamGov) Fetch(ctx context.Context, emit func(RawRecord) error) error {
	if s.apiKey == "" {
		return fmt.Errorf("sam.gov API key is not configured")
	}

	today := s.now()
	postedFrom := today.AddDate(0, 0, -s.daysBack).Format("01/02/2006")
	postedTo := today.Format("01/02/2006")
	s.logger.Info("fetching contracts", "from", postedFrom, "to", postedTo)

	offset := 0
	total := 0
	for {
		page, err := s.fetchPage(ctx, postedFrom, postedTo, offset)
		if err != nil {
			return fmt.Errorf("fetching page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		for _, contract := range page {
			if contract.NoticeID == "" {
				s.logger.Warn("skipping contract with empty noticeId")
				continue
			}
			if err := emit(s.toRecord(contract)); err != nil {
				return err
			}
		}

		total += len(page)
		s.logger.Info("fetched page", "count", len(page), "total", total)
		offset += s.pageSize

		// Fixed delay between pages to respect the API rate limit.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pageDelay):
		}
	}

	s.logger.Info("finished fetching contracts", "total", total)
	return nil
}

func (s *SamGov) fetchPage(ctx context.Context, postedFrom, postedTo string, offset int) ([]samContract, error) {
	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("postedFrom", postedFrom)
	params.Set("postedTo", postedTo)
	params.Set("limit", strconv.Itoa(s.pageSize))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var page samResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return page.OpportunitiesData, nil
}

func (s *SamGov) toRecord(c samContract) RawRecord {
	agency := c.Department
	if agency == "" {
		agency = c.FullParentPathName
	}

	deadline := c.ResponseDeadLine
	if deadline == "" {
		deadline = c.ArchiveDate
	}

	return RawRecord{
		OpportunityID: c.NoticeID,
		Title:         c.Title,
		Description:   c.Description,
		Agency:        agency,
		Deadline:      deadline,
		NAICSCode:     parseNAICS(c.NaicsCode),
		URL:           "https://sam.gov/opp/" + c.NoticeID + "/view",
		NoticeType:    c.Type,
	}
}

// parseNAICS handles the API returning naicsCode as either a string or a
// list of strings; the first entry wins.
func parseNAICS(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
