// Package ollama implements pkg/llm's Completer against a local Ollama instance.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mnemolabs/mnemo/pkg/llm"
)

const (
	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is the default completion model.
	DefaultModel = "llama3.2"
)

// Config holds configuration for the Ollama completer.
type Config struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL.
	BaseURL string

	// Model is the completion model. Defaults to DefaultModel.
	Model string

	// Timeout bounds each call. Defaults to 120 seconds; local models
	// are slow but the engine still fails closed eventually.
	Timeout time.Duration
}

// Completer calls Ollama's chat endpoint.
type Completer struct {
	config     Config
	httpClient *http.Client
}

// NewCompleter creates a new Ollama completion client.
func NewCompleter(cfg Config) (*Completer, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Completer{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Complete sends the prompt pair to Ollama's chat endpoint. When the caller
// expects JSON the request pins Ollama's JSON output format.
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	reqBody := map[string]any{
		"model":    c.config.Model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"temperature": 0.3,
		},
	}
	if req.JSON {
		reqBody["format"] = "json"
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama api status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return result.Message.Content, nil
}

// Close releases resources held by the completer.
func (c *Completer) Close() error {
	return nil
}

var _ llm.Completer = (*Completer)(nil)
