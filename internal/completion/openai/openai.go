// Package openai implements the Completer interface using the OpenAI Go SDK.
//
// It works against api.openai.com or any OpenAI-compatible base URL. SDK
// retries are disabled: a failed completion is reported once.
package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nadzzz/liveprompt/internal/completion"
	"github.com/nadzzz/liveprompt/internal/config"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Completer uses the OpenAI Chat Completions API.
type Completer struct {
	client openai.Client
	model  string
}

// New creates a new OpenAI completer from config. An empty API key is
// allowed for local servers that ignore authentication.
func New(cfg config.OpenAIConfig) *Completer {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL + "/"),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}

	return &Completer{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name returns the backend identifier.
func (c *Completer) Name() string { return "openai" }

// Complete sends the prompt to the Chat Completions API and returns the
// assistant message text.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(completion.SystemDirective),
			openai.UserMessage(prompt),
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithJSONSet("stream", false))
	if err != nil {
		return "", classify(err)
	}
	slog.Debug("raw completion response", "backend", c.Name(), "body", resp.RawJSON())

	if len(resp.Choices) == 0 {
		return "", completion.Malformed("no choices")
	}
	msg := resp.Choices[0].Message
	if !msg.JSON.Content.Valid() {
		return "", completion.Malformed("choices[0].message.content is absent")
	}
	return msg.Content, nil
}

// Close is a no-op for the OpenAI completer.
func (c *Completer) Close() error { return nil }

// classify maps SDK errors onto provider fault kinds.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return completion.BadStatus(apiErr.StatusCode, apiErr.Message)
	}
	if completion.IsTransportError(err) {
		return completion.Unreachable(err)
	}
	return completion.Malformed("%v", err)
}
