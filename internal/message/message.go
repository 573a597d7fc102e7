// Package message defines the request and response types flowing through the
// liveprompt pipeline.
package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/liveprompt/internal/command"
)

// Prompt represents an incoming natural-language instruction from any transport.
type Prompt struct {
	// ID is a unique identifier for this prompt (UUID).
	ID string `json:"id"`

	// Source identifies the sender (e.g., "web-form", "cli", "mqtt-pad-01").
	Source string `json:"source,omitempty"`

	// Text is the caller's instruction. Empty text is not rejected here;
	// the model decides what to do with it.
	Text string `json:"prompt"`

	// Timestamp is when the prompt was received by liveprompt.
	Timestamp time.Time `json:"timestamp"`
}

// NewPrompt creates a Prompt with a fresh ID and the current time.
func NewPrompt(text, source string) *Prompt {
	p := &Prompt{Text: text, Source: source}
	p.Normalize()
	return p
}

// Normalize fills in the ID and timestamp when a transport left them empty.
func (p *Prompt) Normalize() {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
}

// Envelope is the bridge's uniform response: either a command paired with
// the device result, or a single error message.
type Envelope struct {
	// Command is the interpreted command. Nil on error.
	Command *command.Command `json:"command,omitempty"`

	// Result is whatever the device returned; opaque to liveprompt.
	Result any `json:"result"`

	// Error is set if any pipeline stage failed.
	Error string `json:"error,omitempty"`
}

// Success builds a success envelope.
func Success(cmd command.Command, result any) *Envelope {
	return &Envelope{Command: &cmd, Result: result}
}

// Failure builds an error envelope.
func Failure(msg string) *Envelope {
	return &Envelope{Error: msg}
}

// OK reports whether the envelope is a success envelope.
func (e *Envelope) OK() bool {
	return e.Error == "" && e.Command != nil
}

// MarshalJSON emits exactly one of the two envelope shapes:
// {"command": ..., "result": ...} or {"error": "..."}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Error != "" || e.Command == nil {
		msg := e.Error
		if msg == "" {
			msg = "empty envelope"
		}
		return json.Marshal(struct {
			Error string `json:"error"`
		}{msg})
	}
	return json.Marshal(struct {
		Command *command.Command `json:"command"`
		Result  any              `json:"result"`
	}{e.Command, e.Result})
}
