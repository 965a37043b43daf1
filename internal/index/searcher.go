package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/propbot/propbot/internal/storage"
)

// ErrIndexUnavailable is returned when no usable index is loaded. Callers
// are expected to fall back to keyword search.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Match is one semantic search hit: an external identifier with its
// similarity score.
type Match struct {
	OpportunityID string
	Source        string
	Score         float32
}

// ScoredOpportunity pairs a stored record with its similarity score.
type ScoredOpportunity struct {
	storage.Opportunity
	Score float32
}

// RecordStore resolves matched identifiers back to full records.
type RecordStore interface {
	GetOpportunitiesByIDs(ctx context.Context, ids []string) ([]storage.Opportunity, error)
}

// Searcher answers semantic queries against the persisted index. It is safe
// for concurrent use; Reload swaps in freshly built artifacts without
// disturbing in-flight searches.
type Searcher struct {
	embedder Embedder
	paths    Paths
	logger   *slog.Logger

	mu      sync.RWMutex
	flat    *Flat
	entries []Entry
}

// NewSearcher creates a searcher and attempts to load the index from disk.
// A missing or unreadable index is not an error at construction time; the
// searcher just reports itself unavailable until a Reload succeeds.
func NewSearcher(embedder Embedder, paths Paths) *Searcher {
	s := &Searcher{
		embedder: embedder,
		paths:    paths,
		logger:   slog.Default().With("component", "searcher"),
	}
	if err := s.Reload(); err != nil {
		s.logger.Info("no vector index loaded", "error", err)
	}
	return s
}

// Reload re-reads both artifacts from disk and atomically swaps them in.
// On failure the previously loaded snapshot, if any, remains active.
func (s *Searcher) Reload() error {
	flat, err := LoadFlat(s.paths.Index)
	if err != nil {
		if os.IsNotExist(errors.Unwrap(err)) {
			return fmt.Errorf("%w: not built yet", ErrIndexUnavailable)
		}
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	data, err := os.ReadFile(s.paths.IDMap)
	if err != nil {
		return fmt.Errorf("%w: reading id map: %v", ErrIndexUnavailable, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: parsing id map: %v", ErrIndexUnavailable, err)
	}
	if len(entries) != flat.Len() {
		return fmt.Errorf("%w: id map has %d entries for %d vectors", ErrIndexUnavailable, len(entries), flat.Len())
	}

	s.mu.Lock()
	s.flat = flat
	s.entries = entries
	s.mu.Unlock()
	s.logger.Info("vector index loaded", "vectors", flat.Len(), "dim", flat.Dim())
	return nil
}

// Close drops the loaded snapshot. Subsequent searches return
// ErrIndexUnavailable until a Reload succeeds.
func (s *Searcher) Close() {
	s.mu.Lock()
	s.flat = nil
	s.entries = nil
	s.mu.Unlock()
}

// Available reports whether a usable index snapshot is loaded.
func (s *Searcher) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flat != nil
}

// Search embeds the query and returns up to k matches above minScore, best
// first. When sourceFilter is non-empty only matches from that source are
// returned; the index is overfetched threefold to compensate for discarded
// rows, so results may still fall short of k when few candidates qualify.
func (s *Searcher) Search(ctx context.Context, query string, k int, sourceFilter string, minScore float32) ([]Match, error) {
	s.mu.RLock()
	flat, entries := s.flat, s.entries
	s.mu.RUnlock()
	if flat == nil {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		return nil, nil
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vectors))
	}
	qvec := vectors[0]
	if len(qvec) != flat.Dim() {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(qvec), flat.Dim())
	}
	normalizeL2(qvec)

	searchK := k
	if sourceFilter != "" {
		searchK = k * 3
	}
	positions, scores := flat.Search(qvec, searchK)

	matches := make([]Match, 0, k)
	for i, pos := range positions {
		if pos < 0 {
			continue
		}
		if scores[i] < minScore {
			continue
		}
		entry := entries[pos]
		if sourceFilter != "" && entry.Source != sourceFilter {
			continue
		}
		matches = append(matches, Match{
			OpportunityID: entry.OpportunityID,
			Source:        entry.Source,
			Score:         scores[i],
		})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

// SearchWithDetails runs Search and resolves the matches to full records,
// sorted by score descending. Matches whose record has since been deleted
// are dropped.
func (s *Searcher) SearchWithDetails(ctx context.Context, store RecordStore, query string, k int, sourceFilter string, minScore float32) ([]ScoredOpportunity, error) {
	matches, err := s.Search(ctx, query, k, sourceFilter, minScore)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	scores := make(map[string]float32, len(matches))
	for i, m := range matches {
		ids[i] = m.OpportunityID
		scores[m.OpportunityID] = m.Score
	}

	records, err := store.GetOpportunitiesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving matches: %w", err)
	}

	results := make([]ScoredOpportunity, 0, len(records))
	for _, rec := range records {
		results = append(results, ScoredOpportunity{Opportunity: rec, Score: scores[rec.OpportunityID]})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}
