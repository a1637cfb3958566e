package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIndexAddSearch(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(3)

	pos, err := idx.Add([]float32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	_, err = idx.Add([]float32{0, 1, 0})
	require.NoError(t, err)
	_, err = idx.Add([]float32{0.9, 0.1, 0})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Position)
	assert.Equal(t, 2, hits[1].Position)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestFlatIndexDimensionMismatch(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(3)
	_, err := idx.Add([]float32{1, 2})
	assert.Error(t, err)

	_, err = idx.Search([]float32{1, 2, 3, 4}, 1)
	assert.Error(t, err)
}

func TestFlatIndexSearchBounds(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(2)
	hits, err := idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = idx.Add([]float32{1, 0})
	require.NoError(t, err)

	// k larger than the index is clamped.
	hits, err = idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestFlatIndexSaveLoad(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(2)
	_, err := idx.Add([]float32{0.6, 0.8})
	require.NoError(t, err)
	_, err = idx.Add([]float32{1, 0})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, idx.Save(path))

	loaded, err := LoadFlatIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Dim, loaded.Dim)
	assert.Equal(t, idx.Vectors, loaded.Vectors)
}

func TestCosine(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-6)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	vec := []float32{3, 4}
	Normalize(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
