// Package local implements the Completer interface for self-hosted models.
//
// It talks to any OpenAI-compatible chat endpoint (LM Studio, llama.cpp
// server, vLLM) at <base_url>/chat/completions. If base_url ends with
// /api/generate it speaks Ollama's native generate format instead.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nadzzz/liveprompt/internal/completion"
	"github.com/nadzzz/liveprompt/internal/config"
)

const (
	defaultBaseURL = "http://localhost:1234/v1"
	defaultModel   = "gemma-3-27b"
	defaultTimeout = 120 * time.Second

	// maxResponseBytes bounds how much of a provider response is read.
	maxResponseBytes = 4 << 20
)

// Completer uses a self-hosted model server for completions.
type Completer struct {
	baseURL string
	model   string
	ollama  bool
	client  *http.Client
}

// New creates a new local completer from config.
func New(cfg config.LocalConfig) *Completer {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Completer{
		baseURL: baseURL,
		model:   model,
		ollama:  strings.HasSuffix(baseURL, "/api/generate"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (c *Completer) Name() string { return "local" }

// Endpoint returns the URL requests are posted to.
func (c *Completer) Endpoint() string {
	if c.ollama {
		return c.baseURL
	}
	return c.baseURL + "/chat/completions"
}

// Complete posts the prompt and returns the assistant message text.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	bodyBytes, err := c.buildPayload(prompt)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", completion.Unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", completion.BadStatus(resp.StatusCode, string(respBody))
	}

	respData, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", completion.Unreachable(fmt.Errorf("reading response: %w", err))
	}
	slog.Debug("raw completion response", "backend", c.Name(), "body", string(respData))

	content, err := c.extractContent(respData)
	if err != nil {
		return "", err
	}
	return content, nil
}

// Close is a no-op for the local completer.
func (c *Completer) Close() error { return nil }

// --- Internal helpers ---

func (c *Completer) buildPayload(prompt string) ([]byte, error) {
	if c.ollama {
		return json.Marshal(map[string]any{
			"model":  c.model,
			"system": completion.SystemDirective,
			"prompt": prompt,
			"stream": false,
		})
	}
	return json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: completion.SystemDirective},
			{Role: "user", Content: prompt},
		},
		Stream: false,
	})
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse uses pointers so absent fields can be told apart from empty ones.
type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type ollamaResponse struct {
	Response *string `json:"response"`
}

func (c *Completer) extractContent(data []byte) (string, error) {
	if c.ollama {
		var resp ollamaResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", completion.Malformed("decoding response: %v", err)
		}
		if resp.Response == nil {
			return "", completion.Malformed(`missing "response"`)
		}
		return *resp.Response, nil
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", completion.Malformed("decoding response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", completion.Malformed("no choices")
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", completion.Malformed("choices[0].message.content is absent")
	}
	return *msg.Content, nil
}
