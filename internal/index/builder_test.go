package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/propbot/propbot/internal/storage"
)

// fakeEmbedder maps texts to fixed unit vectors by topic keyword so tests
// can predict similarity scores exactly.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding provider down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = topicVector(text)
	}
	return out, nil
}

func topicVector(text string) []float32 {
	switch {
	case strings.Contains(text, "solar"):
		return []float32{1, 0, 0, 0}
	case strings.Contains(text, "quantum"):
		return []float32{0, 1, 0, 0}
	default:
		return []float32{0, 0, 1, 0}
	}
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

func seedOpportunity(t *testing.T, s *storage.Store, id, source, title, noticeType string) {
	t.Helper()
	_, err := s.UpsertOpportunity(storage.Opportunity{
		OpportunityID: id,
		Source:        source,
		Title:         title,
		NoticeType:    noticeType,
	})
	if err != nil {
		t.Fatalf("seeding %s: %v", id, err)
	}
}

func TestBuildPersistsIndexAndIDMap(t *testing.T) {
	s := openTestStore(t)
	seedOpportunity(t, s, "g1", storage.SourceGrantsGov, "solar research", "")
	seedOpportunity(t, s, "c1", storage.SourceSamGov, "quantum computing services", "")

	paths := DefaultPaths(t.TempDir())
	b := NewBuilder(s, &fakeEmbedder{}, 4, paths)

	stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Embedded != 2 || stats.Total != 2 {
		t.Errorf("stats: %+v", stats)
	}

	flat, err := LoadFlat(paths.Index)
	if err != nil {
		t.Fatalf("LoadFlat: %v", err)
	}
	if flat.Len() != 2 {
		t.Errorf("index rows: got %d, want 2", flat.Len())
	}

	data := readFileOrFatal(t, paths.IDMap)
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("parsing id map: %v", err)
	}
	if len(entries) != flat.Len() {
		t.Fatalf("id map has %d entries for %d vectors", len(entries), flat.Len())
	}
	// Entries follow insertion order, matching AllOpportunities.
	if entries[0].OpportunityID != "g1" || entries[0].Source != storage.SourceGrantsGov {
		t.Errorf("entry 0: %+v", entries[0])
	}
	if entries[1].OpportunityID != "c1" || entries[1].Source != storage.SourceSamGov {
		t.Errorf("entry 1: %+v", entries[1])
	}
}

func TestBuildEmptyStoreWritesNothing(t *testing.T) {
	s := openTestStore(t)
	paths := DefaultPaths(t.TempDir())
	b := NewBuilder(s, &fakeEmbedder{}, 4, paths)

	stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Embedded != 0 {
		t.Errorf("stats: %+v", stats)
	}
	if _, err := os.Stat(paths.Index); !os.IsNotExist(err) {
		t.Error("index file written for empty store")
	}
}

func TestBuildFailureLeavesPreviousIndex(t *testing.T) {
	s := openTestStore(t)
	seedOpportunity(t, s, "g1", storage.SourceGrantsGov, "solar research", "")

	paths := DefaultPaths(t.TempDir())
	good := NewBuilder(s, &fakeEmbedder{}, 4, paths)
	if _, err := good.Build(context.Background()); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	before := readFileOrFatal(t, paths.Index)

	seedOpportunity(t, s, "g2", storage.SourceGrantsGov, "more solar", "")
	bad := NewBuilder(s, &fakeEmbedder{fail: true}, 4, paths)
	if _, err := bad.Build(context.Background()); err == nil {
		t.Fatal("expected error from failing embedder")
	}

	after := readFileOrFatal(t, paths.Index)
	if string(before) != string(after) {
		t.Error("failed build modified the previous index")
	}
}

func TestBuildBatchesTexts(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 250; i++ {
		seedOpportunity(t, s, fmt.Sprintf("g%03d", i), storage.SourceGrantsGov, "solar", "")
	}

	fe := &fakeEmbedder{}
	b := NewBuilder(s, fe, 4, DefaultPaths(t.TempDir()))
	stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Embedded != 250 {
		t.Errorf("embedded: got %d, want 250", stats.Embedded)
	}
	if fe.calls != 3 {
		t.Errorf("embedder calls: got %d, want 3 batches of up to 100", fe.calls)
	}
}

func TestSearchableText(t *testing.T) {
	long := strings.Repeat("x", 3000)
	got := searchableText("Title", long)
	if len(got) != len("Title")+1+2000+3 {
		t.Errorf("capped text length: got %d", len(got))
	}
	if !strings.HasPrefix(got, "Title\n") {
		t.Errorf("prefix: got %q", got[:10])
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncation marker missing")
	}

	if got := searchableText("", "desc"); got != "desc" {
		t.Errorf("title-less text: got %q", got)
	}
	if got := searchableText("title", ""); got != "title" {
		t.Errorf("description-less text: got %q", got)
	}
}

func TestSearchableTextTruncatesOnRuneBoundary(t *testing.T) {
	// A two-byte rune sits exactly at the cap; byte-wise truncation would
	// split it and yield invalid UTF-8.
	desc := strings.Repeat("a", 1999) + "é" + strings.Repeat("b", 500)
	got := searchableText("T", desc)

	if !utf8.ValidString(got) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if want := utf8.RuneCountInString("T") + 1 + 2000 + 3; utf8.RuneCountInString(got) != want {
		t.Errorf("rune count: got %d, want %d", utf8.RuneCountInString(got), want)
	}
	if !strings.HasSuffix(got, "é...") {
		t.Errorf("rune at the cap dropped: text ends %q", got[len(got)-8:])
	}

	// Multi-byte text under the cap is untouched.
	short := strings.Repeat("é", 1500)
	if got := searchableText("", short); got != short {
		t.Error("text under the rune cap was truncated")
	}
}
