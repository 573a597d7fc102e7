// Package transport defines the interface for pluggable prompt transports.
//
// Each transport (HTTP, gRPC, MQTT) implements this interface and feeds
// prompts to the bridge. The bridge doesn't care how prompts arrive; it only
// works with the Handler contract.
package transport

import (
	"context"

	"github.com/nadzzz/liveprompt/internal/message"
)

// Handler processes one prompt and always returns an envelope; failures are
// reported inside it. The bridge provides this handler to each transport.
type Handler func(ctx context.Context, p *message.Prompt) *message.Envelope

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http", "mqtt").
	Name() string

	// Listen starts accepting prompts and passes them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}

// Detach returns a context that keeps ctx's values but not its cancellation.
// Transports run the pipeline under it so a caller that disconnects does not
// abort a provider or device call halfway; the result is simply discarded.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
