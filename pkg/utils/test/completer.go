package testutils

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemolabs/mnemo/pkg/llm"
)

// MockCompleter is a scripted llm.Completer. Responses are consumed in
// order; when they run out, Fallback is returned. Every request is
// recorded for assertions.
type MockCompleter struct {
	// Responses are returned one per Complete call, in order.
	Responses []string

	// Fallback is returned once Responses is exhausted.
	Fallback string

	// BySubstring overrides scripted responses: the first key contained
	// in the prompt or system prompt wins.
	BySubstring map[string]string

	// Err causes every Complete call to fail.
	Err error

	// Requests records every completion request in order.
	Requests []llm.CompletionRequest

	next int
}

func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{Responses: responses}
}

func (m *MockCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	m.Requests = append(m.Requests, req)

	if m.Err != nil {
		return "", fmt.Errorf("mock completion failure: %w", m.Err)
	}

	for key, resp := range m.BySubstring {
		if strings.Contains(req.Prompt, key) || strings.Contains(req.System, key) {
			return resp, nil
		}
	}

	if m.next < len(m.Responses) {
		resp := m.Responses[m.next]
		m.next++
		return resp, nil
	}

	return m.Fallback, nil
}

func (m *MockCompleter) Close() error {
	return nil
}
