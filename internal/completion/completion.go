// Package completion defines the interface to the language model that turns a
// prompt into a single device command.
//
// liveprompt ships with two backends: a plain-HTTP client for self-hosted
// OpenAI-compatible servers (LM Studio, llama.cpp, Ollama) and one built on
// the OpenAI SDK. Both send the same fixed request: SystemDirective plus the
// caller's prompt, streaming disabled.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/nadzzz/liveprompt/internal/command"
	"github.com/nadzzz/liveprompt/internal/fault"
)

// Completer is the interface for completion providers.
type Completer interface {
	// Name returns the backend identifier (e.g., "local", "openai").
	Name() string

	// Complete sends prompt with the system directive and returns the
	// assistant message text (choices[0].message.content) unmodified.
	// Errors carry a fault kind: ProviderUnreachable, ProviderBadStatus or
	// ProviderMalformedEnvelope.
	Complete(ctx context.Context, prompt string) (string, error)

	// Close releases any resources held by the completer.
	Close() error
}

// SystemDirective is the constant system message. It lists the whole command
// vocabulary and the output rules the bridge relies on.
var SystemDirective = buildDirective()

func buildDirective() string {
	var sb strings.Builder
	sb.WriteString("You are a sound producer making music in Ableton Live. ")
	sb.WriteString("You control Live through a limited set of functions. Every function call is a JSON object ")
	sb.WriteString(`of the form {"type": "set_tempo", "params": {"tempo": 96.0}} and every response is JSON too.` + "\n\n")

	sb.WriteString("Setters: " + strings.Join(command.Setters(), ", ") + ".\n")
	sb.WriteString("Getters: " + strings.Join(command.Getters(), ", ") + ".\n\n")

	sb.WriteString("Signatures and meaning:\n")
	sb.WriteString("- add_notes_to_clip(track_index, clip_index, notes): adds MIDI notes to an existing clip; notes is a list of {pitch, velocity, start_time, duration}. Fails with \"No clip in slot\" if the slot is empty.\n")
	sb.WriteString("- set_clip_name(track_index, clip_index, name): renames an existing clip.\n")
	sb.WriteString("- set_tempo(tempo): changes the project tempo.\n")
	sb.WriteString("- fire_clip(track_index, clip_index): starts playing an existing clip.\n")
	sb.WriteString("- stop_clip(track_index, clip_index): stops a playing clip.\n")
	sb.WriteString("- load_instrument_or_effect(track_index, uri): loads an instrument or effect onto a track.\n")
	sb.WriteString("- load_browser_item(track_index, item_uri): loads a browser item (audio, MIDI effects, audio effects, plugins, groups).\n")
	sb.WriteString("- create_midi_track(index): creates a new MIDI track.\n")
	sb.WriteString("- set_track_name(track_index, name): renames a track.\n")
	sb.WriteString("- create_clip(track_index, clip_index, length): creates an empty clip.\n")
	sb.WriteString("- start_playback(), stop_playback(): the master transport play and stop buttons.\n")
	sb.WriteString("- get_session_info() -> {tempo, track_count, ...}: project information.\n")
	sb.WriteString("- get_track_info(track_index) -> {name, ...}: what is on a track.\n")
	sb.WriteString("- get_browser_tree(category_type=all) -> {type, categories: [...]}.\n")
	sb.WriteString("- get_browser_items(path, item_type=all) -> [...].\n")
	sb.WriteString("- get_browser_items_at_path(path) -> [{name, ...}].\n")
	sb.WriteString("There are no other functions.\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- Reply with exactly one JSON object and nothing else. Do not explain anything.\n")
	sb.WriteString("- Do not put the word json or a code fence before the object.\n")
	sb.WriteString("- Use double quotes.\n")
	sb.WriteString("- Omit \"params\" entirely when the function takes no parameters.\n")
	return sb.String()
}

// Unreachable classifies a transport failure talking to the provider.
func Unreachable(err error) error {
	return fault.Wrap(fault.ProviderUnreachable, err, "completion provider unreachable")
}

// BadStatus classifies a non-2xx provider response.
func BadStatus(status int, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fault.New(fault.ProviderBadStatus, "completion provider returned status %d", status)
	}
	return fault.New(fault.ProviderBadStatus, "completion provider returned status %d: %s", status, body)
}

// Malformed classifies a response that lacks the expected envelope fields.
func Malformed(format string, args ...any) error {
	return fault.New(fault.ProviderMalformedEnvelope, "completion provider returned malformed envelope: %s", fmt.Sprintf(format, args...))
}

// IsTransportError reports whether err came from the network layer or a
// deadline rather than from decoding a response.
func IsTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
