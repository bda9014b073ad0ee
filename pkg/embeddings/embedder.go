// Package embeddings provides text embedding capabilities for the memory layer.
//
// Embedding failures are recoverable by design: a memory saved while the
// embedder is down simply carries no vector and degrades to lexical-only
// retrieval until a content edit re-embeds it.
package embeddings

import (
	"context"
	"errors"
)

// DefaultDimensions is the embedding dimensionality the engine assumes
// when none is configured.
const DefaultDimensions = 1024

// ErrEmbedding is returned when embedding generation fails.
var ErrEmbedding = errors.New("embedding failed")

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
