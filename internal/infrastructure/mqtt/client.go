package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/config"
)

// Client is the bridge's one broker session. The command subscriber, the
// characteristic registry, the health reporter and the BLE gateway driver
// all share it.
//
// Safe for concurrent use. paho redials on its own; after every CONNACK
// the Client replays its subscriptions and announces itself online.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	will   *Will

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool
	hooks     hooks
}

// hooks holds the callbacks and logger, which may be swapped after Connect.
type hooks struct {
	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

func (h *hooks) get() (Logger, func(), func(error)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logger, h.onConnect, h.onDisconnect
}

// Logger receives handler failures and connection loss. *slog.Logger and
// logging.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Will is the message the broker publishes if the session drops uncleanly.
type Will struct {
	Topic   string
	Payload []byte
}

// Option customises a Client before it dials.
type Option func(*Client)

// WithWill replaces the default system-status will.
func WithWill(topic string, payload []byte) Option {
	return func(c *Client) {
		c.will = &Will{Topic: topic, Payload: payload}
	}
}

// WithLogger sets the logger before the first dial.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.hooks.logger = logger
	}
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. A returned error is logged and the
// message still counts as delivered. paho delivers in order, so handlers
// must not block.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first CONNACK.
//
// Unless WithWill is given, the will is an unexpected_disconnect status on
// graylogic/system/status/{client_id}. Errors wrap ErrConnectionFailed.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}

	po := buildClientOptions(cfg)
	configureLWT(po, cfg.Broker.ClientID, c.will)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.onUp() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onDown(err) })
	c.client = pahomqtt.NewClient(po)

	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: %s did not answer within %v", ErrConnectionFailed, brokerURL(c.cfg), defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(c.cfg), err)
	}
	// The connect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return nil
}

func (c *Client) onUp() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.announce(presenceOnline, "")

	if _, onConnect, _ := c.hooks.get(); onConnect != nil {
		onConnect()
	}
}

func (c *Client) onDown(err error) {
	c.connected.Store(false)

	logger, _, onDisconnect := c.hooks.get()
	if logger != nil {
		logger.Warn("MQTT connection lost", "broker", brokerURL(c.cfg), "error", err)
	}
	if onDisconnect != nil {
		onDisconnect(err)
	}
}

// announce publishes the retained presence status for this client.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	id := c.cfg.Broker.ClientID
	return c.client.Publish(Topics{}.SystemStatus(id), c.defaultQoS(), true, buildStatusPayload(id, status, reason))
}

// Close announces a graceful_shutdown, which consumers can tell apart
// from the will, then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(presenceOffline, "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback for the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooks.mu.Lock()
	c.hooks.onConnect = fn
	c.hooks.mu.Unlock()
}

// SetOnDisconnect registers a callback for connection loss.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooks.mu.Lock()
	c.hooks.onDisconnect = fn
	c.hooks.mu.Unlock()
}

// SetLogger replaces the logger. Without one, handler failures go unreported.
func (c *Client) SetLogger(logger Logger) {
	c.hooks.mu.Lock()
	c.hooks.logger = logger
	c.hooks.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	logger, _, _ := c.hooks.get()
	return logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		dispatch(c.getLogger(), handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, turning panics and errors into log lines.
func dispatch(logger Logger, handler MessageHandler, topic string, payload []byte) {
	defer func() {
		r := recover()
		if r != nil && logger != nil {
			logger.Error("MQTT handler panicked", "topic", topic, "panic", r)
		}
	}()

	err := handler(topic, payload)
	if err != nil && logger != nil {
		logger.Warn("MQTT handler failed", "topic", topic, "error", err)
	}
}
