package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// ollamaEncoder generates embeddings through a local Ollama server.
type ollamaEncoder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func newOllamaEncoder(baseURL, model string) (*ollamaEncoder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}

	enc := &ollamaEncoder{
		baseURL:   baseURL,
		model:     model,
		dimension: 768, // nomic-embed-text dimension
		client:    &http.Client{Timeout: 60 * time.Second},
	}

	// Connection check so misconfiguration surfaces at startup.
	resp, err := enc.client.Get(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ollama at %s: %w (is 'ollama serve' running?)", baseURL, err)
	}
	resp.Body.Close()

	logger.Infof("connected to ollama (model: %s, url: %s)", model, baseURL)
	return enc, nil
}

// Encode implements Encoder, embedding one prompt per call.
func (o *ollamaEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (o *ollamaEncoder) Dimension() int { return o.dimension }

func (o *ollamaEncoder) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(msg))
	}

	var embedResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	vec := make([]float32, len(embedResp.Embedding))
	for i, v := range embedResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
