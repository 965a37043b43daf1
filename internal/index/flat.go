// Package index builds and queries the persisted nearest-neighbor index
// over opportunity embeddings.
package index

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// flatMagic identifies the on-disk flat index format.
const flatMagic = uint32(0x50424958) // "PBIX"

// Flat is a flat (exhaustive) inner-product index over fixed-dimension
// vectors. Vectors are expected to be L2-normalized, making inner product
// equivalent to cosine similarity. Row i corresponds to entry i of the
// companion identifier map.
type Flat struct {
	dim  int
	data []float32 // row-major
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Add appends a vector. Rows keep insertion order.
func (f *Flat) Add(vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), f.dim)
	}
	f.data = append(f.data, vec...)
	return nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int {
	return f.dim
}

type posScore struct {
	Pos   int
	Score float32
}

// posScoreHeap is a min-heap of posScore ordered by Score, used to track
// top-K candidates during a scan.
type posScoreHeap []posScore

func (h posScoreHeap) Len() int           { return len(h) }
func (h posScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h posScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *posScoreHeap) Push(x any)        { *h = append(*h, x.(posScore)) }
func (h *posScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search returns the positions and inner-product scores of the k nearest
// rows, best first. It always returns exactly k slots; when fewer rows
// exist, the tail is padded with position -1 and score 0 so callers can
// treat -1 as the empty sentinel.
func (f *Flat) Search(query []float32, k int) ([]int, []float32) {
	positions := make([]int, k)
	scores := make([]float32, k)
	for i := range positions {
		positions[i] = -1
	}
	if len(query) != f.dim || k <= 0 {
		return positions, scores
	}

	h := &posScoreHeap{}
	heap.Init(h)
	rows := f.Len()
	for i := 0; i < rows; i++ {
		row := f.data[i*f.dim : (i+1)*f.dim]
		var dot float32
		for j, q := range query {
			dot += q * row[j]
		}
		if h.Len() < k {
			heap.Push(h, posScore{Pos: i, Score: dot})
		} else if dot > (*h)[0].Score {
			(*h)[0] = posScore{Pos: i, Score: dot}
			heap.Fix(h, 0)
		}
	}

	// Drain the min-heap back to front for descending order.
	for i := h.Len() - 1; i >= 0; i-- {
		item := heap.Pop(h).(posScore)
		positions[i] = item.Pos
		scores[i] = item.Score
	}
	return positions, scores
}

// Save writes the index to path: a small header followed by little-endian
// float32 rows.
func (f *Flat) Save(path string) error {
	buf := make([]byte, 12+len(f.data)*4)
	binary.LittleEndian.PutUint32(buf[0:], flatMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(f.dim))
	binary.LittleEndian.PutUint32(buf[8:], uint32(f.Len()))
	for i, v := range f.data {
		binary.LittleEndian.PutUint32(buf[12+i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// LoadFlat reads an index written by Save.
func LoadFlat(path string) (*Flat, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if len(buf) < 12 {
		return nil, fmt.Errorf("index file too short (%d bytes)", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:]) != flatMagic {
		return nil, fmt.Errorf("index file has wrong magic")
	}
	dim := int(binary.LittleEndian.Uint32(buf[4:]))
	rows := int(binary.LittleEndian.Uint32(buf[8:]))
	if dim <= 0 {
		return nil, fmt.Errorf("index file has invalid dimension %d", dim)
	}
	want := 12 + dim*rows*4
	if len(buf) != want {
		return nil, fmt.Errorf("index file length %d does not match header (want %d)", len(buf), want)
	}

	data := make([]float32, dim*rows)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[12+i*4:]))
	}
	return &Flat{dim: dim, data: data}, nil
}

// normalizeL2 scales a vector to unit length in place. Zero vectors are left
// untouched.
func normalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
