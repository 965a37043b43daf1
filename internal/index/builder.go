package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/propbot/propbot/internal/storage"
)

// descriptionCap bounds the searchable text per record to keep embedding
// token cost predictable.
const descriptionCap = 2000

// embedBatchSize is how many texts go to the provider per call.
const embedBatchSize = 100

// Embedder is the order-preserving batch embedding contract.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry maps one index row back to its record. Position is implicit: entry i
// describes vector i.
type Entry struct {
	OpportunityID string `json:"opportunity_id"`
	Source        string `json:"source"`
}

// Paths locates the two persisted index artifacts. They are only ever
// written and swapped together.
type Paths struct {
	Index string
	IDMap string
}

// DefaultPaths places the artifacts next to the database.
func DefaultPaths(dataDir string) Paths {
	return Paths{
		Index: filepath.Join(dataDir, "vector_index.bin"),
		IDMap: filepath.Join(dataDir, "vector_id_map.json"),
	}
}

// BuildStats summarizes one index build.
type BuildStats struct {
	Total    int
	Embedded int
}

// Builder rebuilds the vector index from every stored opportunity. Rebuilds
// are full, never incremental, and must not run concurrently with each
// other; running concurrently with searches against the previous snapshot is
// fine because both artifacts are swapped atomically at the end.
type Builder struct {
	store    *storage.Store
	embedder Embedder
	dim      int
	paths    Paths
	logger   *slog.Logger
}

// NewBuilder creates a builder. dim must match the embedding model's output
// dimension.
func NewBuilder(store *storage.Store, embedder Embedder, dim int, paths Paths) *Builder {
	return &Builder{
		store:    store,
		embedder: embedder,
		dim:      dim,
		paths:    paths,
		logger:   slog.Default().With("component", "index-builder"),
	}
}

// Build embeds all stored records and persists the index plus its identifier
// map as an atomic pair. On any failure nothing is written and a previously
// persisted index stays valid. An empty store is not an error; no artifacts
// are written.
func (b *Builder) Build(ctx context.Context) (BuildStats, error) {
	records, err := b.store.AllOpportunities(ctx)
	if err != nil {
		return BuildStats{}, fmt.Errorf("loading opportunities: %w", err)
	}
	if len(records) == 0 {
		b.logger.Info("no opportunities to index")
		return BuildStats{}, nil
	}

	texts := make([]string, len(records))
	entries := make([]Entry, len(records))
	for i, rec := range records {
		texts[i] = searchableText(rec.Title, rec.Description)
		entries[i] = Entry{OpportunityID: rec.OpportunityID, Source: rec.Source}
	}

	vectors, err := b.embedAll(ctx, texts)
	if err != nil {
		return BuildStats{}, err
	}

	flat := NewFlat(b.dim)
	for i, vec := range vectors {
		normalizeL2(vec)
		if err := flat.Add(vec); err != nil {
			return BuildStats{}, fmt.Errorf("adding vector %d: %w", i, err)
		}
	}

	if err := b.persist(flat, entries); err != nil {
		return BuildStats{}, err
	}

	b.logger.Info("index built", "vectors", flat.Len())
	return BuildStats{Total: len(records), Embedded: flat.Len()}, nil
}

// embedAll embeds texts in fixed-size batches with bounded concurrency.
// Results land at their original offsets so row order matches input order.
func (b *Builder) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	batches := (len(texts) + embedBatchSize - 1) / embedBatchSize
	for n := 0; n < batches; n++ {
		start := n * embedBatchSize
		end := min(start+embedBatchSize, len(texts))
		batchNum := n + 1
		g.Go(func() error {
			b.logger.Debug("embedding batch", "batch", batchNum, "of", batches, "size", end-start)
			batch, err := b.embedder.EmbedTexts(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch %d/%d: %w", batchNum, batches, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedding batch %d/%d: got %d vectors, want %d", batchNum, batches, len(batch), end-start)
			}
			for i, vec := range batch {
				if len(vec) != b.dim {
					return fmt.Errorf("embedding batch %d/%d: vector dimension %d, want %d", batchNum, batches, len(vec), b.dim)
				}
				vectors[start+i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// persist writes both artifacts to temp files in the destination directory
// and renames them into place, id map last. Readers require both files and a
// matching row count, so a crash between the two renames reads as "index
// unavailable" rather than as mismatched artifacts.
func (b *Builder) persist(flat *Flat, entries []Entry) error {
	dir := filepath.Dir(b.paths.Index)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmpIndex := b.paths.Index + ".tmp"
	if err := flat.Save(tmpIndex); err != nil {
		return err
	}

	idMapData, err := json.Marshal(entries)
	if err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("marshaling id map: %w", err)
	}
	tmpIDMap := b.paths.IDMap + ".tmp"
	if err := os.WriteFile(tmpIDMap, idMapData, 0o644); err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("writing id map: %w", err)
	}

	if err := os.Rename(tmpIndex, b.paths.Index); err != nil {
		os.Remove(tmpIndex)
		os.Remove(tmpIDMap)
		return fmt.Errorf("swapping index: %w", err)
	}
	if err := os.Rename(tmpIDMap, b.paths.IDMap); err != nil {
		os.Remove(tmpIDMap)
		return fmt.Errorf("swapping id map: %w", err)
	}
	return nil
}

// searchableText concatenates title and a capped description for embedding.
// The cap counts runes, not bytes, so truncation never splits a multi-byte
// character.
func searchableText(title, description string) string {
	if utf8.RuneCountInString(description) > descriptionCap {
		description = string([]rune(description)[:descriptionCap]) + "..."
	}
	if title == "" {
		return description
	}
	if description == "" {
		return title
	}
	return title + "\n" + description
}
