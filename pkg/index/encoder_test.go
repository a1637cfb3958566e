package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholderEncoderDeterministic(t *testing.T) {
	t.Parallel()

	enc := &placeholderEncoder{dimension: DefaultDimension}

	a, err := enc.Encode(context.Background(), []string{"get the current time"})
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), []string{"get the current time"})
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.Len(t, a[0], DefaultDimension)
}

func TestPlaceholderEncoderSimilarityTracksOverlap(t *testing.T) {
	t.Parallel()

	enc := &placeholderEncoder{dimension: DefaultDimension}
	vecs, err := enc.Encode(context.Background(), []string{
		"get the current time for a timezone",
		"the current time for a timezone",
		"fetch stock aggregate data",
	})
	require.NoError(t, err)

	near := Cosine(vecs[0], vecs[1])
	far := Cosine(vecs[0], vecs[2])
	assert.Greater(t, near, far)
	assert.InDelta(t, 1.0, Cosine(vecs[0], vecs[0]), 1e-5)
}

func TestPlaceholderEncoderNormalized(t *testing.T) {
	t.Parallel()

	enc := &placeholderEncoder{dimension: 64}
	vecs, err := enc.Encode(context.Background(), []string{"hello world"})
	require.NoError(t, err)

	var sum float64
	for _, v := range vecs[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestNewEncoderBackends(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(EncoderConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDimension, enc.Dimension())

	enc, err = NewEncoder(EncoderConfig{Backend: BackendPlaceholder, Dimension: 128})
	require.NoError(t, err)
	assert.Equal(t, 128, enc.Dimension())

	_, err = NewEncoder(EncoderConfig{Backend: "faiss"})
	assert.Error(t, err)

	_, err = NewEncoder(EncoderConfig{Backend: BackendOpenAI})
	assert.Error(t, err)
}
