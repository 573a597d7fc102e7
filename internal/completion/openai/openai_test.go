package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nadzzz/liveprompt/internal/completion"
	"github.com/nadzzz/liveprompt/internal/config"
	"github.com/nadzzz/liveprompt/internal/fault"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSuccess(t *testing.T) {
	var captured struct {
		Path          string
		Authorization string
		Body          map[string]any
	}

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Authorization = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"type\": \"set_tempo\", \"params\": {\"tempo\": 120.0}}"}
			}]
		}`))
	})

	c := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", Timeout: time.Second})

	got, err := c.Complete(context.Background(), "set the tempo to 120")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"type": "set_tempo", "params": {"tempo": 120.0}}` {
		t.Fatalf("content = %q", got)
	}

	if captured.Path != "/v1/chat/completions" {
		t.Errorf("path = %q", captured.Path)
	}
	if captured.Authorization != "Bearer sk-test" {
		t.Errorf("authorization = %q", captured.Authorization)
	}
	if stream, ok := captured.Body["stream"].(bool); !ok || stream {
		t.Errorf("stream = %v, want explicit false", captured.Body["stream"])
	}
	msgs, _ := captured.Body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", captured.Body["messages"])
	}
	if system := msgs[0].(map[string]any); system["role"] != "system" || system["content"] != completion.SystemDirective {
		t.Errorf("system message = %v", system)
	}
	if user := msgs[1].(map[string]any); user["role"] != "user" || user["content"] != "set the tempo to 120" {
		t.Errorf("user message = %v", user)
	}
}

func TestCompleteBadStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	})

	c := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Complete(context.Background(), "hi")
	if !fault.Is(err, fault.ProviderBadStatus) {
		t.Fatalf("error kind = %v (%v), want provider_bad_status", fault.KindOf(err), err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("provider called %d times, want exactly 1", n)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": []}`))
	})

	c := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Complete(context.Background(), "hi")
	if !fault.Is(err, fault.ProviderMalformedEnvelope) {
		t.Fatalf("error kind = %v (%v), want provider_malformed_envelope", fault.KindOf(err), err)
	}
}

func TestCompleteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: url, Timeout: time.Second})
	_, err := c.Complete(context.Background(), "hi")
	if !fault.Is(err, fault.ProviderUnreachable) {
		t.Fatalf("error kind = %v (%v), want provider_unreachable", fault.KindOf(err), err)
	}
}
