package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/memory"
)

var (
	memorySaveToolName    = "memory_save"
	memorySaveDescription = "Save a durable fact about the user to long-term memory. Content must be a single short fact (at most 120 characters). Near-duplicates of existing memories are reported back instead of being stored twice."

	memoryForgetToolName    = "memory_forget"
	memoryForgetDescription = "Delete a memory by id. The memory is moved to trash and can be restored until it is reaped. Deletion is refused when the memory was written by a different source."
)

// MemorySaveInput represents the input arguments for the memory_save tool.
type MemorySaveInput struct {
	Content string              `json:"content" jsonschema:"the fact to remember, at most 120 characters"`
	Klass   string              `json:"klass,omitempty" jsonschema:"memory category: identity, relationship, bond, conflict, fact, preference, health, task, ephemeral, or other"`
	Tags    map[string][]string `json:"tags,omitempty" jsonschema:"topic to keyword-list mapping for later tag-based recall"`
	Source  string              `json:"source,omitempty" jsonschema:"provenance tag, typically the assistant name"`
}

// handleMemorySave processes a memory save via MCP.
func (s *Server) handleMemorySave(ctx context.Context, _ *mcp.CallToolRequest, input MemorySaveInput) (*mcp.CallToolResult, memory.SaveResult, error) {
	if input.Content == "" {
		return toolError("content is required"), memory.SaveResult{}, nil
	}

	result, err := s.config.Memories.Save(ctx, memory.SaveRequest{
		Content: input.Content,
		Klass:   memory.Klass(input.Klass),
		Tags:    input.Tags,
		Source:  input.Source,
	})
	if err != nil {
		s.config.Logger.Error("memory save failed", zap.Error(err))
		return toolError(fmt.Sprintf("Memory save failed: %v", err)), memory.SaveResult{}, nil
	}

	return marshalResult(*result)
}

// MemoryForgetInput represents the input arguments for the memory_forget tool.
type MemoryForgetInput struct {
	ID     int64  `json:"id" jsonschema:"the id of the memory to delete"`
	Source string `json:"source,omitempty" jsonschema:"the caller's provenance tag, checked against the memory's source"`
}

// handleMemoryForget processes a memory delete via MCP.
func (s *Server) handleMemoryForget(ctx context.Context, _ *mcp.CallToolRequest, input MemoryForgetInput) (*mcp.CallToolResult, memory.DeleteResult, error) {
	if input.ID == 0 {
		return toolError("id is required"), memory.DeleteResult{}, nil
	}

	result, err := s.config.Memories.Delete(ctx, input.ID, input.Source)
	if err != nil {
		s.config.Logger.Error("memory forget failed",
			zap.Int64("id", input.ID),
			zap.Error(err),
		)
		return toolError(fmt.Sprintf("Memory delete failed: %v", err)), memory.DeleteResult{}, nil
	}

	return marshalResult(*result)
}

// toolError wraps a message as a failed tool call result.
func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}

// marshalResult returns a tool result carrying output both structured and
// serialized. Per MCP spec: tools returning structured content should also
// return serialized JSON in a TextContent block for backwards compatibility.
func marshalResult[T any](output T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		var zero T
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
