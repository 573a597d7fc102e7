// Package command defines the device command vocabulary and turns model
// output into dispatchable commands.
//
// A model reply passes through ExtractJSONText (presentation cleanup) and
// Parse (structural validation). Parse never checks the type against the
// vocabulary; unknown types travel on to the device, which is the only place
// that rejects them.
package command

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/nadzzz/liveprompt/internal/fault"
)

// Kind identifies a vocabulary entry.
type Kind int

const (
	KindUnknown Kind = iota

	// Setters.
	KindAddNotesToClip
	KindSetClipName
	KindSetTempo
	KindFireClip
	KindStopClip
	KindLoadInstrumentOrEffect
	KindLoadBrowserItem
	KindCreateMIDITrack
	KindSetTrackName
	KindCreateClip
	KindStartPlayback
	KindStopPlayback

	// Getters.
	KindGetSessionInfo
	KindGetTrackInfo
	KindGetBrowserTree
	KindGetBrowserItems
	KindGetBrowserItemsAtPath
)

type vocabEntry struct {
	kind    Kind
	name    string
	mutates bool
}

// vocabulary is ordered setters first, then getters.
var vocabulary = []vocabEntry{
	{KindAddNotesToClip, "add_notes_to_clip", true},
	{KindSetClipName, "set_clip_name", true},
	{KindSetTempo, "set_tempo", true},
	{KindFireClip, "fire_clip", true},
	{KindStopClip, "stop_clip", true},
	{KindLoadInstrumentOrEffect, "load_instrument_or_effect", true},
	{KindLoadBrowserItem, "load_browser_item", true},
	{KindCreateMIDITrack, "create_midi_track", true},
	{KindSetTrackName, "set_track_name", true},
	{KindCreateClip, "create_clip", true},
	{KindStartPlayback, "start_playback", true},
	{KindStopPlayback, "stop_playback", true},
	{KindGetSessionInfo, "get_session_info", false},
	{KindGetTrackInfo, "get_track_info", false},
	{KindGetBrowserTree, "get_browser_tree", false},
	{KindGetBrowserItems, "get_browser_items", false},
	{KindGetBrowserItemsAtPath, "get_browser_items_at_path", false},
}

var (
	kindByName  = make(map[string]Kind, len(vocabulary))
	entryByKind = make(map[Kind]vocabEntry, len(vocabulary))
)

func init() {
	for _, e := range vocabulary {
		kindByName[e.name] = e.kind
		entryByKind[e.kind] = e
	}
}

// KindOf maps a type string to its Kind, or KindUnknown.
func KindOf(typ string) Kind {
	if k, ok := kindByName[typ]; ok {
		return k
	}
	return KindUnknown
}

// String returns the wire name of the kind ("unknown" for KindUnknown).
func (k Kind) String() string {
	if e, ok := entryByKind[k]; ok {
		return e.name
	}
	return "unknown"
}

// Known reports whether k is part of the vocabulary.
func (k Kind) Known() bool {
	_, ok := entryByKind[k]
	return ok
}

// Mutates reports whether the command changes device state. Unknown
// commands are assumed to mutate.
func (k Kind) Mutates() bool {
	e, ok := entryByKind[k]
	return !ok || e.mutates
}

// Setters returns the wire names of all state-changing commands.
func Setters() []string { return names(true) }

// Getters returns the wire names of all read-only commands.
func Getters() []string { return names(false) }

func names(mutates bool) []string {
	var out []string
	for _, e := range vocabulary {
		if e.mutates == mutates {
			out = append(out, e.name)
		}
	}
	return out
}

// Command is one structurally valid device instruction.
type Command struct {
	// Type is the command name exactly as the model stated it.
	Type string `json:"type"`

	// Params is never nil; commands without parameters carry an empty map.
	Params map[string]any `json:"params"`

	// Kind is derived from Type.
	Kind Kind `json:"-"`
}

// New builds a Command, normalising nil params to an empty map.
func New(typ string, params map[string]any) Command {
	if params == nil {
		params = map[string]any{}
	}
	return Command{Type: typ, Params: params, Kind: KindOf(typ)}
}

const (
	fenceOpen  = "```json\n"
	fenceClose = "\n```"
)

// ExtractJSONText strips a leading ```json fence line and a trailing closing
// fence from a model reply. Anything else is returned untouched; the result
// is not guaranteed to be JSON.
func ExtractJSONText(raw string) string {
	text := strings.TrimPrefix(raw, fenceOpen)
	return strings.TrimSuffix(text, fenceClose)
}

// Parse decodes candidate text into a Command. It fails with a
// fault.MalformedJSON error when the text is not a JSON object, when "type"
// is missing or not a string, or when "params" is present but not an object.
func Parse(candidate string) (Command, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return Command{}, fault.Wrap(fault.MalformedJSON, err, "")
	}
	if obj == nil {
		return Command{}, fault.New(fault.MalformedJSON, "expected a JSON object, got null")
	}

	rawType, ok := obj["type"]
	if !ok {
		return Command{}, fault.New(fault.MalformedJSON, `missing "type" field`)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || bytes.Equal(bytes.TrimSpace(rawType), []byte("null")) {
		return Command{}, fault.New(fault.MalformedJSON, `"type" must be a string, got %s`, bytes.TrimSpace(rawType))
	}

	var params map[string]any
	if rawParams, ok := obj["params"]; ok {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return Command{}, fault.New(fault.MalformedJSON, `"params" must be an object, got %s`, truncate(bytes.TrimSpace(rawParams)))
		}
	}

	return New(typ, params), nil
}

func truncate(b []byte) string {
	const limit = 80
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
