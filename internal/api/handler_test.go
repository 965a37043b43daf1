package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/propbot/propbot/internal/index"
	"github.com/propbot/propbot/internal/search"
	"github.com/propbot/propbot/internal/sources"
	"github.com/propbot/propbot/internal/storage"
)

type fakeIngester struct {
	gotSources []string
	err        error
}

func (f *fakeIngester) Run(ctx context.Context, srcs []sources.Source) ([]storage.IngestRun, error) {
	var runs []storage.IngestRun
	for _, src := range srcs {
		f.gotSources = append(f.gotSources, src.Name())
		runs = append(runs, storage.IngestRun{
			ID:     "run-" + src.Name(),
			Source: src.Name(),
			Status: storage.RunStatusCompleted,
		})
	}
	return runs, f.err
}

type fakeReindexer struct {
	stats index.BuildStats
	err   error
}

func (f *fakeReindexer) Build(ctx context.Context) (index.BuildStats, error) {
	return f.stats, f.err
}

type fakeReloader struct {
	reloaded  int
	available bool
	err       error
}

func (f *fakeReloader) Reload() error   { f.reloaded++; return f.err }
func (f *fakeReloader) Available() bool { return f.available }

type stubSource struct{ name string }

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Fetch(ctx context.Context, emit func(sources.RawRecord) error) error {
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDeps(t *testing.T) (Deps, *fakeIngester) {
	t.Helper()
	store := openTestStore(t)
	ing := &fakeIngester{}
	return Deps{
		Store:    store,
		Search:   search.NewService(store, nil),
		Ingester: ing,
		Sources: map[string]sources.Source{
			storage.SourceGrantsGov: &stubSource{name: storage.SourceGrantsGov},
			storage.SourceSamGov:    &stubSource{name: storage.SourceSamGov},
		},
		Reindexer: &fakeReindexer{stats: index.BuildStats{Total: 3, Embedded: 3}},
		Searcher:  &fakeReloader{available: true},
	}, ing
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	deps, _ := testDeps(t)
	w := doRequest(t, NewHandler(deps), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	deps, _ := testDeps(t)
	w := doRequest(t, NewHandler(deps), http.MethodGet, "/api/search", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestSearchRejectsUnknownSource(t *testing.T) {
	deps, _ := testDeps(t)
	w := doRequest(t, NewHandler(deps), http.MethodGet, "/api/search?q=solar&source=usaspending.gov", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestSearchReturnsBuckets(t *testing.T) {
	deps, _ := testDeps(t)
	if _, err := deps.Store.UpsertOpportunity(storage.Opportunity{
		OpportunityID: "g1", Source: storage.SourceGrantsGov, Title: "solar research",
	}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	w := doRequest(t, NewHandler(deps), http.MethodGet, "/api/search?q=solar", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Grants    []json.RawMessage `json:"grants"`
		Contracts []json.RawMessage `json:"contracts"`
		RFIs      []json.RawMessage `json:"rfis"`
		Mode      string            `json:"search_mode"`
	}
	decodeBody(t, w, &resp)
	if resp.Mode != search.ModeKeyword {
		t.Errorf("mode: got %q", resp.Mode)
	}
	if len(resp.Grants) != 1 {
		t.Errorf("grants: got %d", len(resp.Grants))
	}
	// Empty buckets serialize as [] rather than null.
	if resp.Contracts == nil || resp.RFIs == nil {
		t.Errorf("empty buckets serialized as null: %s", w.Body.String())
	}
}

func TestIngestAllSourcesByDefault(t *testing.T) {
	deps, ing := testDeps(t)
	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/ingest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if len(ing.gotSources) != 2 {
		t.Errorf("ingested sources: got %v, want both", ing.gotSources)
	}

	var resp struct {
		Runs []runJSON `json:"runs"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Runs) != 2 {
		t.Errorf("runs in response: got %d", len(resp.Runs))
	}
}

func TestIngestSelectedSource(t *testing.T) {
	deps, ing := testDeps(t)
	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/ingest", `{"sources":["sam.gov"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if len(ing.gotSources) != 1 || ing.gotSources[0] != storage.SourceSamGov {
		t.Errorf("ingested sources: got %v", ing.gotSources)
	}
}

func TestIngestUnknownSourceRejected(t *testing.T) {
	deps, ing := testDeps(t)
	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/ingest", `{"sources":["usaspending.gov"]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if len(ing.gotSources) != 0 {
		t.Errorf("ingester was invoked: %v", ing.gotSources)
	}
}

func TestIngestReportsPartialFailure(t *testing.T) {
	deps, ing := testDeps(t)
	ing.err = errors.New("sam.gov: feed timeout")

	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/ingest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}

	var resp struct {
		Runs  []runJSON `json:"runs"`
		Error string    `json:"error"`
	}
	decodeBody(t, w, &resp)
	if resp.Error == "" {
		t.Error("ingest error not reported")
	}
	if len(resp.Runs) != 2 {
		t.Errorf("summaries missing on failure: got %d", len(resp.Runs))
	}
}

func TestReindexReloadsSearcher(t *testing.T) {
	deps, _ := testDeps(t)
	reloader := deps.Searcher.(*fakeReloader)

	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/reindex", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if reloader.reloaded != 1 {
		t.Errorf("searcher reloaded %d times, want 1", reloader.reloaded)
	}

	var resp struct {
		Indexed int `json:"indexed"`
	}
	decodeBody(t, w, &resp)
	if resp.Indexed != 3 {
		t.Errorf("indexed: got %d", resp.Indexed)
	}
}

func TestReindexWithoutEmbedderUnavailable(t *testing.T) {
	deps, _ := testDeps(t)
	deps.Reindexer = nil
	deps.Searcher = nil

	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/reindex", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", w.Code)
	}
}

func TestReindexEmptyStoreSkipsReload(t *testing.T) {
	deps, _ := testDeps(t)
	deps.Reindexer = &fakeReindexer{}
	reloader := deps.Searcher.(*fakeReloader)

	w := doRequest(t, NewHandler(deps), http.MethodPost, "/api/reindex", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if reloader.reloaded != 0 {
		t.Errorf("reload called for empty build")
	}
}

func TestListRuns(t *testing.T) {
	deps, _ := testDeps(t)
	if _, err := deps.Store.CreateIngestRun(storage.SourceGrantsGov); err != nil {
		t.Fatalf("CreateIngestRun: %v", err)
	}

	w := doRequest(t, NewHandler(deps), http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}

	var runs []runJSON
	decodeBody(t, w, &runs)
	if len(runs) != 1 {
		t.Errorf("runs: got %d", len(runs))
	}
	if runs[0].Status != storage.RunStatusRunning {
		t.Errorf("run status: got %q", runs[0].Status)
	}
}

func TestStats(t *testing.T) {
	deps, _ := testDeps(t)
	for _, op := range []storage.Opportunity{
		{OpportunityID: "g1", Source: storage.SourceGrantsGov},
		{OpportunityID: "c1", Source: storage.SourceSamGov},
		{OpportunityID: "c2", Source: storage.SourceSamGov},
	} {
		if _, err := deps.Store.UpsertOpportunity(op); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	w := doRequest(t, NewHandler(deps), http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}

	var resp struct {
		Total          int            `json:"total"`
		BySource       map[string]int `json:"by_source"`
		IndexAvailable bool           `json:"index_available"`
	}
	decodeBody(t, w, &resp)
	if resp.Total != 3 {
		t.Errorf("total: got %d", resp.Total)
	}
	if resp.BySource[storage.SourceSamGov] != 2 {
		t.Errorf("by_source: got %v", resp.BySource)
	}
	if !resp.IndexAvailable {
		t.Error("index_available: got false")
	}
}
