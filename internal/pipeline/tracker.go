package pipeline

import (
	"github.com/propbot/propbot/internal/storage"
)

// RunStore abstracts ingest run persistence for the tracker.
type RunStore interface {
	CreateIngestRun(source string) (storage.IngestRun, error)
	FinalizeIngestRun(run storage.IngestRun) error
}

// Tracker accumulates per-run counters and owns the run's single transition
// from running to a terminal status. Counters only ever increase; Complete
// persists whatever was accumulated even when the run failed partway.
type Tracker struct {
	store     RunStore
	run       storage.IngestRun
	finalized bool
}

// NewTracker creates the run row in the running state and returns a tracker
// bound to it.
func NewTracker(store RunStore, source string) (*Tracker, error) {
	run, err := store.CreateIngestRun(source)
	if err != nil {
		return nil, err
	}
	return &Tracker{store: store, run: run}, nil
}

func (t *Tracker) Fetched()         { t.run.RecordsFetched++ }
func (t *Tracker) FilteredExpired() { t.run.RecordsFilteredExpired++ }
func (t *Tracker) Inserted()        { t.run.RecordsInserted++ }
func (t *Tracker) Updated()         { t.run.RecordsUpdated++ }

// Complete finalizes the run: failed with the error message when runErr is
// non-nil, completed otherwise. Only the first call transitions the run;
// later calls return storage.ErrRunFinalized.
func (t *Tracker) Complete(runErr error) error {
	if t.finalized {
		return storage.ErrRunFinalized
	}
	t.finalized = true

	if runErr != nil {
		t.run.Status = storage.RunStatusFailed
		t.run.ErrorMessage = runErr.Error()
	} else {
		t.run.Status = storage.RunStatusCompleted
	}
	return t.store.FinalizeIngestRun(t.run)
}

// Summary returns a copy of the run with its current counters.
func (t *Tracker) Summary() storage.IngestRun {
	return t.run
}
