package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateIngestRun inserts a new run row in the running state and returns it.
func (s *Store) CreateIngestRun(source string) (IngestRun, error) {
	run := IngestRun{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    RunStatusRunning,
	}
	_, err := s.db.Exec(
		"INSERT INTO ingest_runs (id, source, started_at, status) VALUES (?, ?, ?, ?)",
		run.ID, run.Source, run.StartedAt.Format(time.RFC3339), run.Status,
	)
	if err != nil {
		return IngestRun{}, fmt.Errorf("creating ingest run: %w", err)
	}
	return run, nil
}

// FinalizeIngestRun writes the run's terminal status, counters, and
// completion time in one statement. A run can only be finalized once; a
// second attempt returns ErrRunFinalized.
func (s *Store) FinalizeIngestRun(run IngestRun) error {
	res, err := s.db.Exec(`
		UPDATE ingest_runs SET
			completed_at = ?,
			status = ?,
			records_fetched = ?,
			records_filtered_expired = ?,
			records_filtered_capability = ?,
			records_inserted = ?,
			records_updated = ?,
			error_message = ?
		WHERE id = ? AND status = ?`,
		time.Now().UTC().Format(time.RFC3339),
		run.Status,
		run.RecordsFetched,
		run.RecordsFilteredExpired,
		run.RecordsFilteredCapability,
		run.RecordsInserted,
		run.RecordsUpdated,
		nullStr(run.ErrorMessage),
		run.ID, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finalizing ingest run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunFinalized
	}
	return nil
}

// GetIngestRun returns a single run by id.
func (s *Store) GetIngestRun(id string) (IngestRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source, started_at, completed_at, status,
		       records_fetched, records_filtered_expired, records_filtered_capability,
		       records_inserted, records_updated, error_message
		FROM ingest_runs WHERE id = ?`, id)
	run, err := scanIngestRun(row)
	if err == sql.ErrNoRows {
		return IngestRun{}, ErrNotFound
	}
	return run, err
}

// ListIngestRuns returns the most recent runs, newest first.
func (s *Store) ListIngestRuns(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, started_at, completed_at, status,
		       records_fetched, records_filtered_expired, records_filtered_capability,
		       records_inserted, records_updated, error_message
		FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		run, err := scanIngestRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ingest run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanIngestRun(row rowScanner) (IngestRun, error) {
	var run IngestRun
	var startedAt string
	var completedAt, errMsg sql.NullString

	err := row.Scan(
		&run.ID, &run.Source, &startedAt, &completedAt, &run.Status,
		&run.RecordsFetched, &run.RecordsFilteredExpired, &run.RecordsFilteredCapability,
		&run.RecordsInserted, &run.RecordsUpdated, &errMsg,
	)
	if err != nil {
		return IngestRun{}, err
	}

	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			run.CompletedAt = t
		}
	}
	run.ErrorMessage = errMsg.String
	return run, nil
}
