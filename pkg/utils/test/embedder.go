package testutils

import (
	"context"
	"fmt"
	"strings"
)

// MockEmbedder is a test embedder that returns predictable embeddings.
// Keys in Embeddings are matched as substrings so stamped content (the
// "[2026-01-02 15:04] " prefix the write path adds) still resolves.
type MockEmbedder struct {
	Embeddings map[string][]float32

	// Default is returned for any text with no Embeddings match. Nil
	// means a fixed 3-dim vector.
	Default []float32

	// FailOn causes Embed to return an error when the input text contains
	// the given substring.
	FailOn string

	// FailAll causes every Embed call to fail.
	FailAll bool

	// Calls records every embedded text in order.
	Calls []string

	// Contexts records the context of every Embed call in order.
	Contexts []context.Context
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.Calls = append(m.Calls, text)
	m.Contexts = append(m.Contexts, ctx)

	if m.FailAll {
		return nil, fmt.Errorf("mock embedding failure")
	}
	if m.FailOn != "" && strings.Contains(text, m.FailOn) {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	for key, emb := range m.Embeddings {
		if strings.Contains(text, key) {
			return emb, nil
		}
	}

	if m.Default != nil {
		return m.Default, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockEmbedder) Close() error {
	return nil
}
