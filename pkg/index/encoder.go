// Package index maintains the vector index over registered servers and
// ranks tools across the fleet against natural-language queries.
package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Backend types accepted by NewEncoder.
const (
	BackendPlaceholder = "placeholder"
	BackendOllama      = "ollama"
	BackendOpenAI      = "openai"
)

// DefaultDimension matches all-MiniLM-L6-v2, the model the index was
// originally built with.
const DefaultDimension = 384

// Encoder turns texts into fixed-dimension embedding vectors. The encoder
// is constructed once per process and cached; backends must be safe for
// concurrent use.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EncoderConfig selects and configures an embedding backend.
type EncoderConfig struct {
	// Backend is one of placeholder, ollama, openai.
	Backend string

	// BaseURL is the embedding service URL (ollama/openai backends).
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimension is the embedding dimension; fixed at model load.
	Dimension int
}

// NewEncoder constructs the configured backend, falling back to the
// deterministic placeholder when a remote backend is unreachable.
func NewEncoder(cfg EncoderConfig) (Encoder, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}

	switch cfg.Backend {
	case "", BackendPlaceholder:
		return &placeholderEncoder{dimension: cfg.Dimension}, nil
	case BackendOllama:
		enc, err := newOllamaEncoder(cfg.BaseURL, cfg.Model)
		if err != nil {
			logger.Warnf("failed to initialize ollama encoder, falling back to placeholder: %v", err)
			return &placeholderEncoder{dimension: cfg.Dimension}, nil
		}
		return enc, nil
	case BackendOpenAI:
		if cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("openai backend requires a base URL and model")
		}
		return newOpenAIEncoder(cfg.BaseURL, cfg.Model, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s", cfg.Backend)
	}
}

// placeholderEncoder produces deterministic embeddings via the hashing
// trick: each token is hashed into a bucket with a sign bit, so texts
// sharing vocabulary land near each other under cosine similarity. Good
// enough for tests and development without a model server.
type placeholderEncoder struct {
	dimension int
}

func (p *placeholderEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embed(text)
	}
	return out, nil
}

func (p *placeholderEncoder) Dimension() int { return p.dimension }

func (p *placeholderEncoder) embed(text string) []float32 {
	vec := make([]float32, p.dimension)

	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		bucket := int(sum % uint32(p.dimension))
		if sum&0x80000000 != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	Normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
