package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nadzzz/liveprompt/internal/command"
	"github.com/nadzzz/liveprompt/internal/message"
)

func TestPromptSuccess(t *testing.T) {
	prompts := make(chan *message.Prompt, 1)
	handler := func(ctx context.Context, p *message.Prompt) *message.Envelope {
		prompts <- p
		return message.Success(command.New("set_tempo", map[string]any{"tempo": 120.0}), map[string]any{"tempo": 120.0})
	}

	srv := httptest.NewServer(New(0).Handler(handler))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/prompt", strings.NewReader(`{"prompt":"set the tempo to 120"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SourceHeader, "web-form")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd, _ := body["command"].(map[string]any)
	if cmd["type"] != "set_tempo" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["result"]; !ok {
		t.Fatalf("result missing: %v", body)
	}

	got := <-prompts
	if got.Text != "set the tempo to 120" || got.Source != "web-form" || got.ID == "" {
		t.Fatalf("handler received %+v", got)
	}
}

func TestPromptErrorEnvelopeIsOK(t *testing.T) {
	handler := func(ctx context.Context, p *message.Prompt) *message.Envelope {
		return message.Failure("No clip in slot")
	}
	srv := httptest.NewServer(New(0).Handler(handler))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/prompt", "application/json", strings.NewReader(`{"prompt":"add notes"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for pipeline errors", resp.StatusCode)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "No clip in slot" || len(body) != 1 {
		t.Fatalf("body = %v", body)
	}
}

func TestPromptBadRequest(t *testing.T) {
	var called atomic.Bool
	handler := func(ctx context.Context, p *message.Prompt) *message.Envelope {
		called.Store(true)
		return message.Failure("unreachable")
	}
	srv := httptest.NewServer(New(0).Handler(handler))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/prompt", "application/json", strings.NewReader(`{"prompt":`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if called.Load() {
		t.Fatal("handler invoked for malformed request")
	}
}

func TestPromptIgnoresCallerCancellation(t *testing.T) {
	handler := func(ctx context.Context, p *message.Prompt) *message.Envelope {
		if ctx.Done() != nil {
			return message.Failure("pipeline context is cancellable")
		}
		return message.Success(command.New("stop_playback", nil), nil)
	}
	srv := httptest.NewServer(New(0).Handler(handler))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/prompt", "application/json", strings.NewReader(`{"prompt":"stop"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if _, failed := body["error"]; failed {
		t.Fatalf("body = %v", body)
	}
}

func TestSwaggerDocServed(t *testing.T) {
	srv := httptest.NewServer(New(0).Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/swagger/doc.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode swagger doc: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/prompt"]; !ok {
		t.Fatalf("swagger doc lacks /prompt: %v", doc["paths"])
	}
}

func TestCloseWhileListening(t *testing.T) {
	handler := func(ctx context.Context, p *message.Prompt) *message.Envelope {
		return message.Failure("unused")
	}

	for i := 0; i < 20; i++ {
		tr := New(0)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- tr.Listen(ctx, handler) }()

		if err := tr.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("listen: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Listen did not return after Close")
		}
		cancel()
	}
}
