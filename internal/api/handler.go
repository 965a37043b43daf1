// Package api exposes the HTTP surface: search, ingest, reindex, and
// operational introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/propbot/propbot/internal/index"
	"github.com/propbot/propbot/internal/search"
	"github.com/propbot/propbot/internal/sources"
	"github.com/propbot/propbot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Ingester runs the ingest pipeline over a set of sources.
type Ingester interface {
	Run(ctx context.Context, srcs []sources.Source) ([]storage.IngestRun, error)
}

// Reindexer rebuilds the vector index from stored records.
type Reindexer interface {
	Build(ctx context.Context) (index.BuildStats, error)
}

// Reloader swaps freshly built index artifacts into the live searcher.
type Reloader interface {
	Reload() error
	Available() bool
}

// Deps wires the handler to the rest of the system. Sources maps feed name
// to adapter; an ingest request with no sources runs all of them.
type Deps struct {
	Store     *storage.Store
	Search    *search.Service
	Ingester  Ingester
	Sources   map[string]sources.Source
	Reindexer Reindexer
	Searcher  Reloader
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/api/search", handleSearch(deps))
	r.Post("/api/ingest", handleIngest(deps))
	r.Post("/api/reindex", handleReindex(deps))
	r.Get("/api/runs", handleListRuns(deps))
	r.Get("/api/stats", handleStats(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		source := r.URL.Query().Get("source")
		if source != "" && source != storage.SourceGrantsGov && source != storage.SourceSamGov {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown source %q", source)
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode != "" && mode != search.ModeSemantic && mode != search.ModeKeyword {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", mode)
			return
		}

		opts := search.Options{
			Source:      source,
			Limit:       parseIntParam(r, "limit", 10, 50),
			KeywordOnly: mode == search.ModeKeyword,
		}
		resp, err := deps.Search.Search(r.Context(), query, opts)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if resp.Grants == nil {
			resp.Grants = []search.Result{}
		}
		if resp.Contracts == nil {
			resp.Contracts = []search.Result{}
		}
		if resp.RFIs == nil {
			resp.RFIs = []search.Result{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type ingestRequest struct {
	Sources []string `json:"sources"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// An empty body means "ingest everything".
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var srcs []sources.Source
		if len(req.Sources) == 0 {
			names := make([]string, 0, len(deps.Sources))
			for name := range deps.Sources {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				srcs = append(srcs, deps.Sources[name])
			}
		} else {
			for _, name := range req.Sources {
				src, ok := deps.Sources[name]
				if !ok {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown source %q", name)
					return
				}
				srcs = append(srcs, src)
			}
		}

		summaries, runErr := deps.Ingester.Run(r.Context(), srcs)

		out := make([]runJSON, len(summaries))
		for i, run := range summaries {
			out[i] = toRunJSON(run)
		}
		body := map[string]any{"runs": out}
		if runErr != nil {
			body["error"] = runErr.Error()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reindexer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "embedding is not configured")
			return
		}
		stats, err := deps.Reindexer.Build(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reindex failed: %v", err)
			return
		}
		if stats.Embedded > 0 {
			if err := deps.Searcher.Reload(); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "reloading index: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"indexed": stats.Embedded,
			"total":   stats.Total,
		})
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListIngestRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		out := make([]runJSON, len(runs))
		for i, run := range runs {
			out[i] = toRunJSON(run)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountBySource(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count opportunities: %v", err)
			return
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":           total,
			"by_source":       counts,
			"index_available": deps.Searcher != nil && deps.Searcher.Available(),
		})
	}
}

// runJSON is the wire shape of an ingest run.
type runJSON struct {
	ID                     string `json:"id"`
	Source                 string `json:"source"`
	StartedAt              string `json:"started_at"`
	CompletedAt            string `json:"completed_at,omitempty"`
	Status                 string `json:"status"`
	RecordsFetched         int    `json:"records_fetched"`
	RecordsFilteredExpired int    `json:"records_filtered_expired"`
	RecordsInserted        int    `json:"records_inserted"`
	RecordsUpdated         int    `json:"records_updated"`
	ErrorMessage           string `json:"error_message,omitempty"`
}

func toRunJSON(run storage.IngestRun) runJSON {
	out := runJSON{
		ID:                     run.ID,
		Source:                 run.Source,
		StartedAt:              run.StartedAt.Format(time.RFC3339),
		Status:                 run.Status,
		RecordsFetched:         run.RecordsFetched,
		RecordsFilteredExpired: run.RecordsFilteredExpired,
		RecordsInserted:        run.RecordsInserted,
		RecordsUpdated:         run.RecordsUpdated,
		ErrorMessage:           run.ErrorMessage,
	}
	if !run.CompletedAt.IsZero() {
		out.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
