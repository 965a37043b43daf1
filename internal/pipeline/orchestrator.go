package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/propbot/propbot/internal/sources"
	"github.com/propbot/propbot/internal/storage"
)

// commitBatchSize is how many processed records share one storage
// transaction. Bounds transaction size and the blast radius of a failure
// mid-run.
const commitBatchSize = 100

// Orchestrator drives sources through normalize -> filter -> upsert,
// tracking one ingest run per source. Processing is strictly sequential.
type Orchestrator struct {
	store  *storage.Store
	logger *slog.Logger

	// Now supplies the freshness reference date; overridable for tests.
	Now func() time.Time
}

// NewOrchestrator creates an orchestrator writing to the given store.
func NewOrchestrator(store *storage.Store) *Orchestrator {
	return &Orchestrator{
		store:  store,
		logger: slog.Default().With("component", "pipeline"),
		Now:    time.Now,
	}
}

// Run processes each source in order. One source failing does not stop the
// remaining sources; the summaries for every attempted source are returned
// together with the joined errors.
func (o *Orchestrator) Run(ctx context.Context, srcs []sources.Source) ([]storage.IngestRun, error) {
	var summaries []storage.IngestRun
	var errs []error
	for _, src := range srcs {
		summary, err := o.ProcessSource(ctx, src)
		summaries = append(summaries, summary)
		if err != nil {
			o.logger.Error("source ingest failed", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	return summaries, errors.Join(errs...)
}

// ProcessSource runs the pipeline for a single source. On failure the run is
// marked failed with the counters accumulated so far, records processed
// before the failure stay committed, and the error is returned.
func (o *Orchestrator) ProcessSource(ctx context.Context, src sources.Source) (storage.IngestRun, error) {
	tracker, err := NewTracker(o.store, src.Name())
	if err != nil {
		return storage.IngestRun{}, fmt.Errorf("creating ingest run: %w", err)
	}
	o.logger.Info("processing source", "source", src.Name(), "run", tracker.Summary().ID)

	batch, err := o.store.Begin()
	if err != nil {
		ferr := fmt.Errorf("beginning batch: %w", err)
		o.completeRun(tracker, ferr)
		return tracker.Summary(), ferr
	}

	reference := o.Now()
	fetchErr := src.Fetch(ctx, func(rec sources.RawRecord) error {
		tracker.Fetched()

		deadline := NormalizeDeadline(rec.Deadline, src.Name())
		if IsExpired(deadline, reference) {
			tracker.FilteredExpired()
		} else {
			res, err := batch.UpsertOpportunity(toOpportunity(rec, src.Name(), deadline))
			if err != nil {
				return err
			}
			if res == storage.Inserted {
				tracker.Inserted()
			} else {
				tracker.Updated()
			}
		}

		// Commit periodically so a later failure loses at most one batch.
		if tracker.Summary().RecordsFetched%commitBatchSize == 0 {
			if err := batch.Commit(); err != nil {
				return fmt.Errorf("committing batch: %w", err)
			}
			batch, err = o.store.Begin()
			if err != nil {
				return fmt.Errorf("beginning batch: %w", err)
			}
		}
		return nil
	})

	if fetchErr != nil {
		// Keep the records processed before the failure.
		if err := batch.Commit(); err != nil {
			o.logger.Warn("committing partial batch after failure", "error", err)
		}
		o.completeRun(tracker, fetchErr)
		return tracker.Summary(), fetchErr
	}

	if err := batch.Commit(); err != nil {
		cerr := fmt.Errorf("committing final batch: %w", err)
		o.completeRun(tracker, cerr)
		return tracker.Summary(), cerr
	}
	if err := tracker.Complete(nil); err != nil {
		return tracker.Summary(), fmt.Errorf("finalizing run: %w", err)
	}

	summary := tracker.Summary()
	o.logger.Info("source ingest complete",
		"source", src.Name(),
		"fetched", summary.RecordsFetched,
		"expired", summary.RecordsFilteredExpired,
		"inserted", summary.RecordsInserted,
		"updated", summary.RecordsUpdated,
	)
	return summary, nil
}

// completeRun marks the run failed. The run error is what the caller
// reports; a failure to record the terminal state must not mask it, so it is
// logged instead of returned.
func (o *Orchestrator) completeRun(tracker *Tracker, runErr error) {
	if err := tracker.Complete(runErr); err != nil {
		o.logger.Error("finalizing failed run", "error", err)
	}
}

// toOpportunity maps a raw feed record plus its normalized deadline to the
// stored shape.
func toOpportunity(rec sources.RawRecord, source, deadline string) storage.Opportunity {
	var cfda string
	if len(rec.CFDANumbers) > 0 {
		if b, err := json.Marshal(rec.CFDANumbers); err == nil {
			cfda = string(b)
		}
	}
	return storage.Opportunity{
		OpportunityID: rec.OpportunityID,
		Source:        source,
		Title:         rec.Title,
		Description:   rec.Description,
		Agency:        rec.Agency,
		Deadline:      deadline,
		FundingAmount: rec.FundingAmount,
		NAICSCode:     rec.NAICSCode,
		CFDANumbers:   cfda,
		URL:           rec.URL,
		NoticeType:    rec.NoticeType,
	}
}
