package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/propbot/propbot/internal/storage"
)

// fakeRunStore records finalized runs without a database.
type fakeRunStore struct {
	created     int
	finalized   []storage.IngestRun
	createErr   error
	finalizeErr error
}

func (f *fakeRunStore) CreateIngestRun(source string) (storage.IngestRun, error) {
	if f.createErr != nil {
		return storage.IngestRun{}, f.createErr
	}
	f.created++
	return storage.IngestRun{ID: fmt.Sprintf("run-%d", f.created), Source: source, Status: storage.RunStatusRunning}, nil
}

func (f *fakeRunStore) FinalizeIngestRun(run storage.IngestRun) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized = append(f.finalized, run)
	return nil
}

func TestTrackerCountersAndComplete(t *testing.T) {
	fs := &fakeRunStore{}
	tr, err := NewTracker(fs, storage.SourceGrantsGov)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	for i := 0; i < 5; i++ {
		tr.Fetched()
	}
	tr.FilteredExpired()
	tr.Inserted()
	tr.Inserted()
	tr.Updated()

	if err := tr.Complete(nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(fs.finalized) != 1 {
		t.Fatalf("finalized %d runs, want 1", len(fs.finalized))
	}
	run := fs.finalized[0]
	if run.Status != storage.RunStatusCompleted {
		t.Errorf("status: got %q", run.Status)
	}
	if run.RecordsFetched != 5 || run.RecordsFilteredExpired != 1 || run.RecordsInserted != 2 || run.RecordsUpdated != 1 {
		t.Errorf("counters: %+v", run)
	}
}

func TestTrackerCompleteWithError(t *testing.T) {
	fs := &fakeRunStore{}
	tr, err := NewTracker(fs, storage.SourceSamGov)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	tr.Fetched()
	tr.Inserted()

	if err := tr.Complete(errors.New("page 3 fetch failed")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	run := fs.finalized[0]
	if run.Status != storage.RunStatusFailed {
		t.Errorf("status: got %q", run.Status)
	}
	if run.ErrorMessage != "page 3 fetch failed" {
		t.Errorf("error message: got %q", run.ErrorMessage)
	}
	// Counters accumulated before the failure are persisted.
	if run.RecordsFetched != 1 || run.RecordsInserted != 1 {
		t.Errorf("counters: %+v", run)
	}
}

func TestTrackerCompleteOnlyOnce(t *testing.T) {
	fs := &fakeRunStore{}
	tr, err := NewTracker(fs, storage.SourceGrantsGov)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	if err := tr.Complete(nil); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if err := tr.Complete(errors.New("late error")); !errors.Is(err, storage.ErrRunFinalized) {
		t.Fatalf("second Complete: got %v, want ErrRunFinalized", err)
	}
	if len(fs.finalized) != 1 {
		t.Errorf("finalized %d times, want 1", len(fs.finalized))
	}
}
