package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/recall"
)

var (
	memoryRecallToolName    = "memory_recall"
	memoryRecallDescription = "Recall memories relevant to a query. Fuses vector and full-text search, ranks by decayed relevance, and widens the result set through shared tags. Use this to retrieve persistent knowledge about the user before responding."
)

// MemoryRecallInput represents the input arguments for the memory_recall tool.
type MemoryRecallInput struct {
	Query string `json:"query" jsonschema:"the text to find relevant memories for"`
	Mood  string `json:"mood,omitempty" jsonschema:"the user's current mood; negative moods surface conflict and bond memories harder"`
	Limit int    `json:"limit,omitempty" jsonschema:"number of primary results to return (default: 5)"`
}

// handleMemoryRecall processes a recall request via MCP.
func (s *Server) handleMemoryRecall(ctx context.Context, _ *mcp.CallToolRequest, input MemoryRecallInput) (*mcp.CallToolResult, recall.Result, error) {
	if input.Query == "" {
		return toolError("query is required"), recall.Result{}, nil
	}

	s.config.Logger.Debug("MCP recall request",
		zap.String("query", input.Query),
		zap.String("mood", input.Mood),
	)

	result, err := s.config.Retriever.Recall(ctx, recall.Request{
		Query: input.Query,
		Mood:  input.Mood,
		Limit: input.Limit,
	})
	if err != nil {
		s.config.Logger.Error("recall failed", zap.Error(err))
		return toolError(fmt.Sprintf("Recall failed: %v", err)), recall.Result{}, nil
	}

	return marshalResult(*result)
}
