package index

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Defaults for Find.
const (
	DefaultTopKServices = 3
	DefaultTopNTools    = 1
)

// embedWorkers bounds concurrent encoder calls during re-ranking so a
// single query cannot monopolize the embedding backend.
const embedWorkers = 4

// ToolMatch is one ranked result.
type ToolMatch struct {
	ToolName               string          `json:"tool_name"`
	ToolParsedDescription  ToolDescription `json:"tool_parsed_description"`
	ToolSchema             any             `json:"tool_schema,omitempty"`
	ServicePath            string          `json:"service_path"`
	ServiceName            string          `json:"service_name"`
	OverallSimilarityScore float64         `json:"overall_similarity_score"`
}

// Finder ranks tools across the fleet against natural-language queries.
// Service-level search runs over the persistent index; the surviving
// services' tools are re-embedded and re-ranked per query, which keeps the
// hot path fresh without ever computing over the whole fleet.
type Finder struct {
	store   *Store
	encoder Encoder
}

// NewFinder creates a finder over a store and an encoder.
func NewFinder(store *Store, encoder Encoder) *Finder {
	return &Finder{store: store, encoder: encoder}
}

// Find embeds the query, picks the top-K nearest services, builds one
// candidate per tool in each enabled service, and returns the top-N
// candidates by cosine similarity against the query embedding.
func (f *Finder) Find(ctx context.Context, query string, topKServices, topNTools int) ([]ToolMatch, error) {
	if topKServices <= 0 {
		topKServices = DefaultTopKServices
	}
	if topNTools <= 0 {
		topNTools = DefaultTopNTools
	}

	idx, meta, byPosition, err := f.store.Snapshot()
	if err != nil {
		return nil, err
	}

	queryVecs, err := f.encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := queryVecs[0]

	hits, err := idx.Search(queryVec, topKServices)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		match ToolMatch
		text  string
	}
	var candidates []candidate

	for _, hit := range hits {
		servicePath, ok := byPosition[hit.Position]
		if !ok {
			logger.Warnf("index position %d has no metadata entry, skipping", hit.Position)
			continue
		}
		entry, ok := meta.Metadata[servicePath]
		if !ok {
			continue
		}
		info := entry.FullServerInfo
		if !info.IsEnabled {
			logger.Debugf("skipping disabled service %s", servicePath)
			continue
		}

		for _, tool := range info.ToolList {
			text := fmt.Sprintf("Service: %s. Tool: %s. Description: %s",
				info.ServerName, tool.Name, tool.ParsedDescription.Main)
			candidates = append(candidates, candidate{
				text: text,
				match: ToolMatch{
					ToolName:              tool.Name,
					ToolParsedDescription: tool.ParsedDescription,
					ToolSchema:            tool.Schema,
					ServicePath:           servicePath,
					ServiceName:           info.ServerName,
				},
			})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// Embed candidates with a bounded worker pool.
	vecs := make([][]float32, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i := range candidates {
		g.Go(func() error {
			out, err := f.encoder.Encode(gctx, []string{candidates[i].text})
			if err != nil {
				return fmt.Errorf("failed to embed candidate %d: %w", i, err)
			}
			vecs[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]ToolMatch, len(candidates))
	for i, c := range candidates {
		c.match.OverallSimilarityScore = float64(Cosine(queryVec, vecs[i]))
		matches[i] = c.match
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].OverallSimilarityScore > matches[j].OverallSimilarityScore
	})

	if topNTools > len(matches) {
		topNTools = len(matches)
	}
	return matches[:topNTools], nil
}
