// Package mqtt implements the MQTT transport for liveprompt.
//
// The transport subscribes to a prompt topic and publishes each envelope to
// the request's reply_to topic, or to the configured reply topic when the
// request names none. Payloads that are not a JSON object are taken as the
// prompt text itself, so `mosquitto_pub -m "press play"` works.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nadzzz/liveprompt/internal/config"
	"github.com/nadzzz/liveprompt/internal/message"
	"github.com/nadzzz/liveprompt/internal/transport"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Request is the JSON form of a prompt published to the prompt topic.
type Request struct {
	ID      string `json:"id,omitempty"`
	Source  string `json:"source,omitempty"`
	Prompt  string `json:"prompt"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg       config.MQTTConfig
	newClient func(*paho.ClientOptions) paho.Client

	// mu guards client and closed. A message is only tracked in wg while
	// closed is false, so every Add precedes the Wait in Close.
	mu     sync.Mutex
	client paho.Client
	closed bool
	wg     sync.WaitGroup
}

// New creates a new MQTT transport.
func New(cfg config.MQTTConfig) *Transport {
	return &Transport{cfg: cfg, newClient: paho.NewClient}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mqtt" }

// Listen connects to the MQTT broker and subscribes to the configured topic.
// It blocks until the context is cancelled.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(connectTimeout)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	// Subscribing from the connect handler restores the subscription after
	// an automatic reconnect.
	opts.SetOnConnectHandler(func(c paho.Client) {
		tok := c.Subscribe(t.cfg.Topic, qos, t.onMessage(ctx, handler))
		if !tok.WaitTimeout(connectTimeout) {
			slog.Error("mqtt subscribe timed out", "topic", t.cfg.Topic, "timeout", connectTimeout)
			return
		}
		if err := tok.Error(); err != nil {
			slog.Error("mqtt subscribe failed", "topic", t.cfg.Topic, "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", t.cfg.Broker, "error", err)
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	client := t.newClient(opts)
	t.client = client
	t.mu.Unlock()

	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect %s: timed out", t.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.Broker, err)
	}

	slog.Info("mqtt transport listening", "broker", t.cfg.Broker, "topic", t.cfg.Topic)
	<-ctx.Done()
	slog.Info("mqtt transport shutting down")
	return nil
}

// onMessage returns the subscription callback. Messages arriving after Close
// has begun are dropped unanswered.
func (t *Transport) onMessage(ctx context.Context, handler transport.Handler) paho.MessageHandler {
	return func(c paho.Client, m paho.Message) {
		if !t.track() {
			slog.Debug("mqtt message dropped during shutdown", "topic", m.Topic())
			return
		}
		go func() {
			defer t.wg.Done()
			t.process(ctx, c, m.Payload(), handler)
		}()
	}
}

func (t *Transport) track() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *Transport) process(ctx context.Context, c paho.Client, payload []byte, handler transport.Handler) {
	topic, body := t.handlePayload(ctx, payload, handler)
	if topic == "" {
		slog.Warn("mqtt reply dropped: no reply topic")
		return
	}
	tok := c.Publish(topic, qos, false, body)
	if !tok.WaitTimeout(publishTimeout) {
		slog.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		slog.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

// handlePayload runs one prompt payload through handler and returns the
// reply topic and the encoded envelope.
func (t *Transport) handlePayload(ctx context.Context, payload []byte, handler transport.Handler) (string, []byte) {
	req := decodeRequest(payload)
	source := req.Source
	if source == "" {
		source = "mqtt:" + t.cfg.Topic
	}

	env := handler(transport.Detach(ctx), &message.Prompt{ID: req.ID, Source: source, Text: req.Prompt})

	body, err := json.Marshal(env)
	if err != nil {
		body, _ = json.Marshal(message.Failure(err.Error()))
	}

	topic := req.ReplyTo
	if topic == "" {
		topic = t.cfg.ReplyTopic
	}
	return topic, body
}

func decodeRequest(payload []byte) Request {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var req Request
		if err := json.Unmarshal(trimmed, &req); err == nil {
			return req
		}
	}
	return Request{Prompt: strings.TrimSpace(string(payload))}
}

// Close stops taking prompts, waits until in-flight prompts are answered and
// then disconnects from the MQTT broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	client := t.client
	t.mu.Unlock()

	if client != nil && client.IsConnected() {
		if tok := client.Unsubscribe(t.cfg.Topic); !tok.WaitTimeout(publishTimeout) {
			slog.Warn("mqtt unsubscribe timed out", "topic", t.cfg.Topic)
		} else if err := tok.Error(); err != nil {
			slog.Warn("mqtt unsubscribe failed", "topic", t.cfg.Topic, "error", err)
		}
	}

	t.wg.Wait()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	return nil
}
