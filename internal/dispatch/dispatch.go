// Package dispatch forwards parsed commands to the device.
//
// The dispatcher owns the single shared device connection. It is obtained
// lazily on the first dispatch and reused until a transport failure, after
// which it is closed and the next dispatch connects again.
// One mutex covers both initialization and the whole send/receive exchange,
// because the remote script answers requests in order on one channel and an
// interleaved exchange would hand a response to the wrong caller.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nadzzz/liveprompt/internal/command"
	"github.com/nadzzz/liveprompt/internal/device"
	"github.com/nadzzz/liveprompt/internal/fault"
)

// ConnectFunc obtains the device connection. It is called on the first
// Dispatch and again after a transport failure dropped the previous one.
type ConnectFunc func(ctx context.Context) (device.Conn, error)

// Dispatcher serializes commands onto the shared device connection.
type Dispatcher struct {
	connect ConnectFunc

	mu   sync.Mutex
	conn device.Conn
}

// New creates a Dispatcher. No connection is made until the first Dispatch.
func New(connect ConnectFunc) *Dispatcher {
	return &Dispatcher{connect: connect}
}

// Dispatch sends cmd to the device and returns the device's result.
// Failures carry fault.DeviceUnavailable or fault.DeviceRejected. Nothing is
// retried: a failed connection attempt is repeated only by the next Dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) (any, error) {
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := conn.Send(ctx, cmd.Type, params)
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			// Conn implementations are expected to classify; treat anything
			// else as a transport problem.
			err = device.Unavailable(err)
		}
		slog.Debug("device exchange failed", "type", cmd.Type, "kind", fault.KindOf(err), "duration", time.Since(start))
		if fault.Is(err, fault.DeviceUnavailable) {
			_ = d.dropLocked()
		}
		return nil, err
	}

	slog.Debug("device exchange complete", "type", cmd.Type, "known", cmd.Kind.Known(), "duration", time.Since(start))
	return result, nil
}

// Connected reports whether a connection is held. It turns false after a
// transport failure until the next Dispatch reconnects.
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Close releases the shared connection, if any.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropLocked()
}

// dropLocked releases the connection so the next Dispatch connects afresh
// and Connected reports false until then.
func (d *Dispatcher) dropLocked() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Dispatcher) connLocked(ctx context.Context) (device.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}
	conn, err := d.connect(ctx)
	if err != nil {
		if !fault.Is(err, fault.DeviceUnavailable) {
			err = device.Unavailable(err)
		}
		return nil, err
	}
	if conn == nil {
		return nil, device.Unavailable(fmt.Errorf("connect returned no connection"))
	}
	d.conn = conn
	return conn, nil
}
