// Package http implements the HTTP transport for liveprompt.
//
// This transport exposes POST /prompt, the endpoint the prompt form and the
// `liveprompt ask` command talk to, plus Swagger UI for the API.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/nadzzz/liveprompt/docs" // registers the OpenAPI document served at /swagger/doc.json
	"github.com/nadzzz/liveprompt/internal/message"
	"github.com/nadzzz/liveprompt/internal/transport"
)

// maxBodyBytes bounds the size of a prompt request body.
const maxBodyBytes = 1 << 20

// SourceHeader optionally identifies the caller.
const SourceHeader = "X-Liveprompt-Source"

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	// Prompt is the natural-language instruction.
	Prompt string `json:"prompt" example:"set the tempo to 120"`
}

// Transport implements transport.Transport over HTTP.
type Transport struct {
	port int

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a new HTTP transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler builds the HTTP routes around handler.
func (t *Transport) Handler(handler transport.Handler) http.Handler {
	mux := http.NewServeMux()

	// POST /prompt: accepts a prompt, returns the envelope.
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		t.handlePrompt(w, r, handler)
	})

	// Swagger UI for the registered OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return mux
}

// Listen starts the HTTP server and routes incoming requests to the handler.
// It returns immediately if Close was already called.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.server = server
	t.mu.Unlock()

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handlePrompt processes a POST /prompt request.
//
// @Summary     Run a natural-language prompt against Ableton Live
// @Description The prompt is translated by the language model into one command, which is executed on the device.
// @Description Pipeline failures (provider, parse, device) are reported as {"error": "..."} with status 200.
// @Tags        prompt
// @Accept      json
// @Produce     json
// @Param       request  body      PromptRequest     true  "Prompt"
// @Param       X-Liveprompt-Source  header  string  false  "Caller identifier"
// @Success     200  {object}  message.Envelope  "Command and device result, or error"
// @Failure     400  {string}  string  "Invalid request body"
// @Router      /prompt [post]
func (t *Transport) handlePrompt(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	var req PromptRequest
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	source := strings.TrimSpace(r.Header.Get(SourceHeader))
	if source == "" {
		source = "http:" + r.RemoteAddr
	}

	env := handler(transport.Detach(r.Context()), message.NewPrompt(req.Prompt, source))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

// Close gracefully shuts down the HTTP server. It is safe to call while
// Listen is starting.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	server := t.server
	t.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
