// Package bridge implements the prompt pipeline: completion, extraction,
// parsing and dispatch.
//
// Handle is the only entry point transports call. It is a single pass with
// no retries; the first failing stage short-circuits to an error envelope,
// and no error ever escapes to the caller.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadzzz/liveprompt/internal/command"
	"github.com/nadzzz/liveprompt/internal/completion"
	"github.com/nadzzz/liveprompt/internal/fault"
	"github.com/nadzzz/liveprompt/internal/message"
)

// ParseErrorPrefix precedes the parser's detail in MalformedJSON envelopes.
const ParseErrorPrefix = "Failed to parse LLM response as JSON: "

// Dispatcher executes a parsed command against the device.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (any, error)
}

// Bridge composes a Completer and a Dispatcher.
type Bridge struct {
	completer  completion.Completer
	dispatcher Dispatcher
}

// New creates a Bridge.
func New(completer completion.Completer, dispatcher Dispatcher) *Bridge {
	return &Bridge{completer: completer, dispatcher: dispatcher}
}

// HandlePrompt runs text through the pipeline.
func (b *Bridge) HandlePrompt(ctx context.Context, text string) *message.Envelope {
	return b.Handle(ctx, message.NewPrompt(text, ""))
}

// Handle processes a single prompt through the full pipeline.
// This function is passed as the transport.Handler to each transport.
func (b *Bridge) Handle(ctx context.Context, p *message.Prompt) *message.Envelope {
	p.Normalize()
	start := time.Now()
	logger := slog.With("prompt_id", p.ID, "source", p.Source)
	logger.Info("prompt received", "prompt", p.Text, "backend", b.completer.Name())

	// Step 1: Ask the model for a command.
	raw, err := b.completer.Complete(ctx, p.Text)
	if err != nil {
		return b.fail(logger, "completion", err)
	}
	logger.Debug("raw completion", "text", raw)

	// Step 2: Strip presentation artifacts.
	candidate := command.ExtractJSONText(raw)
	logger.Debug("extracted candidate", "text", candidate)

	// Step 3: Parse into a command.
	cmd, err := command.Parse(candidate)
	if err != nil {
		return b.fail(logger, "parse", err)
	}
	logger.Debug("parsed command", "type", cmd.Type, "kind", cmd.Kind, "params", cmd.Params)

	// Step 4: Execute on the device.
	result, err := b.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		return b.fail(logger, "dispatch", err)
	}

	logger.Info("prompt handled", "type", cmd.Type, "duration", time.Since(start))
	return message.Success(cmd, result)
}

func (b *Bridge) fail(logger *slog.Logger, stage string, err error) *message.Envelope {
	kind := fault.KindOf(err)
	logger.Error("prompt failed", "stage", stage, "kind", kind, "error", err)
	return message.Failure(errorMessage(kind, err))
}

// errorMessage renders the envelope text for a failure. Parse failures get
// a fixed prefix; every other kind already carries a readable message, and
// DeviceRejected carries the device's own text (e.g. "No clip in slot").
func errorMessage(kind fault.Kind, err error) string {
	if kind == fault.MalformedJSON {
		return ParseErrorPrefix + err.Error()
	}
	return err.Error()
}
