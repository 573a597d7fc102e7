// Package device defines the connection to the controlled device.
//
// The bridge only needs one generic operation: send a command type with its
// parameters and get back a result or an error. Transport details (TCP
// socket, IPC) belong to the implementation.
package device

import (
	"context"

	"github.com/nadzzz/liveprompt/internal/fault"
)

// Conn is a stateful, long-lived device connection.
//
// Implementations are not required to be safe for concurrent use; callers
// serialize exchanges.
type Conn interface {
	// Send executes one command and returns the device's result value.
	// Errors carry fault.DeviceUnavailable (transport failure) or
	// fault.DeviceRejected (the device refused the command).
	Send(ctx context.Context, commandType string, params map[string]any) (any, error)

	// Close releases the underlying channel.
	Close() error
}

// Unavailable classifies a failure to reach or talk to the device.
func Unavailable(err error) error {
	return fault.Wrap(fault.DeviceUnavailable, err, "device unavailable")
}

// Rejected classifies a device-side refusal. The message is kept verbatim.
func Rejected(msg string) error {
	if msg == "" {
		msg = "device rejected the command"
	}
	return &fault.Error{Kind: fault.DeviceRejected, Detail: msg}
}
