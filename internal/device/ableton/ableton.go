// Package ableton implements device.Conn for the Ableton Live remote script.
//
// The remote script listens on a TCP socket (localhost:9877 by default) and
// exchanges one JSON object per direction, with no length prefix:
//
//	-> {"type": "set_tempo", "params": {"tempo": 120.0}}
//	<- {"status": "success", "result": {"tempo": 120.0}}
//	<- {"status": "error", "message": "No clip in slot"}
//
// Responses are read with a streaming JSON decoder, so a reply split across
// several TCP segments is reassembled before it is decoded.
package ableton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nadzzz/liveprompt/internal/command"
	"github.com/nadzzz/liveprompt/internal/config"
	"github.com/nadzzz/liveprompt/internal/device"
)

const (
	defaultAddress     = "localhost:9877"
	defaultDialTimeout = 5 * time.Second
	defaultTimeout     = 15 * time.Second
)

// Client is a device.Conn speaking the remote-script protocol over one TCP
// socket. The socket is dialled on first use and redialled on the next
// exchange after a transport failure. Exchanges are serialized.
type Client struct {
	address     string
	dialTimeout time.Duration
	timeout     time.Duration
	settleDelay time.Duration

	mu   sync.Mutex
	conn net.Conn
	dec  *json.Decoder
}

// New creates a client from config. It does not dial.
func New(cfg config.DeviceConfig) *Client {
	address := strings.TrimSpace(cfg.Address)
	address = strings.TrimPrefix(address, "tcp://")
	if address == "" {
		address = defaultAddress
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		address:     address,
		dialTimeout: dialTimeout,
		timeout:     timeout,
		settleDelay: cfg.SettleDelay,
	}
}

// Address returns the remote script endpoint.
func (c *Client) Address() string { return c.address }

// Connect dials the remote script if no socket is open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return device.Unavailable(fmt.Errorf("connecting to %s: %w", c.address, err))
	}
	c.conn = conn
	c.dec = json.NewDecoder(conn)
	slog.Info("connected to ableton remote script", "address", c.address)
	return nil
}

// Send executes one command. State-changing commands are bracketed by the
// configured settle delay so Live can apply them before the next exchange.
func (c *Client) Send(ctx context.Context, commandType string, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	mutates := command.KindOf(commandType).Mutates()
	if mutates {
		c.settle()
	}

	resp, err := c.exchange(ctx, request{Type: commandType, Params: params})
	if err != nil {
		c.resetLocked()
		return nil, device.Unavailable(err)
	}

	if mutates {
		c.settle()
	}

	switch resp.Status {
	case "success":
		return resp.Result, nil
	case "error":
		return nil, device.Rejected(resp.Message)
	default:
		return nil, device.Rejected(fmt.Sprintf("unexpected response status %q", resp.Status))
	}
}

// Close closes the socket. A later Send dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.dec = nil, nil
	return err
}

// --- Protocol helpers ---

type request struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

type response struct {
	Status  string `json:"status"`
	Result  any    `json:"result"`
	Message string `json:"message"`
}

func (c *Client) exchange(ctx context.Context, req request) (*response, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Type, err)
	}
	slog.Debug("sent device command", "type", req.Type, "bytes", len(payload))

	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("no response to %s within %s: %w", req.Type, c.timeout, err)
		}
		return nil, fmt.Errorf("reading response to %s: %w", req.Type, err)
	}
	return &resp, nil
}

// resetLocked drops a socket whose stream state is unknown after a failure.
func (c *Client) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.dec = nil, nil
}

func (c *Client) settle() {
	if c.settleDelay > 0 {
		time.Sleep(c.settleDelay)
	}
}

var _ device.Conn = (*Client)(nil)
