package index

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
)

// FlatIndex is a brute-force inner-product vector index. The fleet-level
// service index is small (one vector per registered server), so exact
// search is both simpler and faster than an approximate structure.
type FlatIndex struct {
	Dim     int
	Vectors [][]float32
}

// NewFlatIndex creates an empty index of the given dimension.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{Dim: dim}
}

// Add appends a vector and returns its position.
func (f *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != f.Dim {
		return 0, fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), f.Dim)
	}
	f.Vectors = append(f.Vectors, vec)
	return len(f.Vectors) - 1, nil
}

// Count returns the number of stored vectors.
func (f *FlatIndex) Count() int { return len(f.Vectors) }

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	Position int
	Score    float32
}

// Search returns the k positions with the highest inner product against
// the query, best first.
func (f *FlatIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != f.Dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), f.Dim)
	}
	if k <= 0 || f.Count() == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, f.Count())
	for i, vec := range f.Vectors {
		results = append(results, SearchResult{Position: i, Score: Dot(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Save serializes the index to path.
func (f *FlatIndex) Save(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(f); err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}
	return nil
}

// LoadFlatIndex reads a serialized index from path.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var f FlatIndex
	if err := gob.NewDecoder(file).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse index file: %w", err)
	}
	return &f, nil
}

// Dot computes the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Cosine computes cosine similarity; zero vectors score zero.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Normalize scales a vector to unit length in place. Zero vectors are
// left untouched.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
}
