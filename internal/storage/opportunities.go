package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const opportunityColumns = `id, opportunity_id, source, title, description, agency,
	deadline, funding_amount, naics_code, cfda_numbers, url, notice_type, created_at, updated_at`

// Batch groups opportunity writes into a single transaction. The ingest
// orchestrator commits a batch every fixed number of processed records to
// bound transaction size; writes in an uncommitted batch are lost on Rollback.
type Batch struct {
	tx *sql.Tx
}

// Begin starts a new write batch.
func (s *Store) Begin() (*Batch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning batch transaction: %w", err)
	}
	return &Batch{tx: tx}, nil
}

// Commit commits all writes in the batch.
func (b *Batch) Commit() error {
	return b.tx.Commit()
}

// Rollback discards all writes in the batch.
func (b *Batch) Rollback() error {
	return b.tx.Rollback()
}

// UpsertOpportunity inserts the record if its opportunity_id is unseen,
// otherwise overwrites every mutable field of the existing row and stamps
// updated_at. The lookup key is the opportunity_id alone; source is stored
// but not part of the key.
func (b *Batch) UpsertOpportunity(op Opportunity) (UpsertResult, error) {
	if op.OpportunityID == "" {
		return Inserted, fmt.Errorf("opportunity has empty opportunity_id")
	}

	var existingID int64
	err := b.tx.QueryRow("SELECT id FROM opportunities WHERE opportunity_id = ?", op.OpportunityID).Scan(&existingID)
	now := time.Now().UTC().Format(time.RFC3339)

	switch {
	case err == sql.ErrNoRows:
		_, err := b.tx.Exec(`
			INSERT INTO opportunities (
				opportunity_id, source, title, description, agency,
				deadline, funding_amount, naics_code, cfda_numbers,
				url, notice_type, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.OpportunityID, op.Source, nullStr(op.Title), nullStr(op.Description), nullStr(op.Agency),
			nullStr(op.Deadline), nullInt(op.FundingAmount), nullStr(op.NAICSCode), nullStr(op.CFDANumbers),
			nullStr(op.URL), nullStr(op.NoticeType), now, now,
		)
		if err != nil {
			return Inserted, fmt.Errorf("inserting opportunity %s: %w", op.OpportunityID, err)
		}
		return Inserted, nil

	case err != nil:
		return Inserted, fmt.Errorf("looking up opportunity %s: %w", op.OpportunityID, err)

	default:
		_, err := b.tx.Exec(`
			UPDATE opportunities SET
				source = ?,
				title = ?,
				description = ?,
				agency = ?,
				deadline = ?,
				funding_amount = ?,
				naics_code = ?,
				cfda_numbers = ?,
				url = ?,
				notice_type = ?,
				updated_at = ?
			WHERE opportunity_id = ?`,
			op.Source, nullStr(op.Title), nullStr(op.Description), nullStr(op.Agency),
			nullStr(op.Deadline), nullInt(op.FundingAmount), nullStr(op.NAICSCode), nullStr(op.CFDANumbers),
			nullStr(op.URL), nullStr(op.NoticeType), now, op.OpportunityID,
		)
		if err != nil {
			return Updated, fmt.Errorf("updating opportunity %s: %w", op.OpportunityID, err)
		}
		return Updated, nil
	}
}

// UpsertOpportunity is a single-record convenience wrapper around Batch.
func (s *Store) UpsertOpportunity(op Opportunity) (UpsertResult, error) {
	b, err := s.Begin()
	if err != nil {
		return Inserted, err
	}
	res, err := b.UpsertOpportunity(op)
	if err != nil {
		b.Rollback()
		return res, err
	}
	return res, b.Commit()
}

// GetOpportunity returns the record with the given external identifier.
func (s *Store) GetOpportunity(opportunityID string) (Opportunity, error) {
	row := s.db.QueryRow(
		"SELECT "+opportunityColumns+" FROM opportunities WHERE opportunity_id = ?",
		opportunityID,
	)
	op, err := scanOpportunity(row)
	if err == sql.ErrNoRows {
		return Opportunity{}, ErrNotFound
	}
	return op, err
}

// GetOpportunitiesByIDs returns records matching the given external
// identifiers, in no particular order.
func (s *Store) GetOpportunitiesByIDs(ctx context.Context, ids []string) ([]Opportunity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT " + opportunityColumns + " FROM opportunities WHERE opportunity_id IN (?" +
		strings.Repeat(",?", len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying opportunities by IDs: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// AllOpportunities returns every stored record ordered by insertion id.
// The index builder relies on this stable ordering to keep the vector index
// and its identifier map aligned.
func (s *Store) AllOpportunities(ctx context.Context) ([]Opportunity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+opportunityColumns+" FROM opportunities ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("querying all opportunities: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// SearchGrantsKeyword returns grants whose title or description contains the
// query, newest deadline first. LIKE matching is case-insensitive for ASCII.
func (s *Store) SearchGrantsKeyword(ctx context.Context, query string, limit int) ([]Opportunity, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+opportunityColumns+` FROM opportunities
		WHERE (title LIKE ? OR description LIKE ?)
		  AND source = ?
		ORDER BY deadline DESC LIMIT ?`,
		pattern, pattern, SourceGrantsGov, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword grant search: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// SearchContractsKeyword returns sam.gov solicitations (non-RFI notice types)
// whose title or description contains the query.
func (s *Store) SearchContractsKeyword(ctx context.Context, query string, limit int) ([]Opportunity, error) {
	pattern := "%" + query + "%"
	in, args := rfiInClause()
	args = append([]any{pattern, pattern, SourceSamGov}, args...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+opportunityColumns+` FROM opportunities
		WHERE (title LIKE ? OR description LIKE ?)
		  AND source = ?
		  AND (notice_type IS NULL OR notice_type NOT IN `+in+`)
		ORDER BY deadline DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword contract search: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// SearchRFIs returns sam.gov records with an RFI-designated notice type whose
// title or description contains the query.
func (s *Store) SearchRFIs(ctx context.Context, query string, limit int) ([]Opportunity, error) {
	pattern := "%" + query + "%"
	in, args := rfiInClause()
	args = append([]any{pattern, pattern, SourceSamGov}, args...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+opportunityColumns+` FROM opportunities
		WHERE (title LIKE ? OR description LIKE ?)
		  AND source = ?
		  AND notice_type IN `+in+`
		ORDER BY deadline DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("RFI search: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// CountBySource returns the number of stored records per source.
func (s *Store) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, COUNT(*) FROM opportunities GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("counting opportunities: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

func rfiInClause() (string, []any) {
	args := make([]any, len(RFINoticeTypes))
	for i, t := range RFINoticeTypes {
		args[i] = t
	}
	return "(?" + strings.Repeat(",?", len(RFINoticeTypes)-1) + ")", args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (Opportunity, error) {
	var op Opportunity
	var title, description, agency, deadline, naics, cfda, url, noticeType sql.NullString
	var funding sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&op.ID, &op.OpportunityID, &op.Source, &title, &description, &agency,
		&deadline, &funding, &naics, &cfda, &url, &noticeType, &createdAt, &updatedAt,
	)
	if err != nil {
		return Opportunity{}, err
	}

	op.Title = title.String
	op.Description = description.String
	op.Agency = agency.String
	op.Deadline = deadline.String
	op.NAICSCode = naics.String
	op.CFDANumbers = cfda.String
	op.URL = url.String
	op.NoticeType = noticeType.String
	if funding.Valid {
		v := funding.Int64
		op.FundingAmount = &v
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		op.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		op.UpdatedAt = t
	}
	return op, nil
}

func collectOpportunities(rows *sql.Rows) ([]Opportunity, error) {
	var results []Opportunity
	for rows.Next() {
		op, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning opportunity: %w", err)
		}
		results = append(results, op)
	}
	return results, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
