// Package embeddings defines the embedding provider used by the vector
// index and tool/skill search.
package embeddings

import (
	"context"
)

// ModelInfo identifies an embedding model. Dimension is the decisive field
// for index compatibility; Name and Version are informational.
type ModelInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Version   string `json:"version"`
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding of text. The returned slice always has
	// length ModelInfo().Dimension.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelInfo describes the model behind this embedder.
	ModelInfo() ModelInfo
}
