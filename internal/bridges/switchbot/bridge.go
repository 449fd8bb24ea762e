package switchbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-switchbot/internal/metrics"
	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
	"github.com/nerrad567/gray-logic-switchbot/internal/translator"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// webhookSetupTimeout bounds vendor webhook registration at start.
const webhookSetupTimeout = 15 * time.Second

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Publisher is the capability sink shared by every device.
type Publisher interface {
	synchronizer.Publisher
	Retire(id device.Identity)
}

// WebhookManager registers the bridge's public URL with the vendor cloud.
type WebhookManager interface {
	SetupWebhook(ctx context.Context, webhookURL string) error
	QueryWebhook(ctx context.Context) ([]string, error)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// deviceLogger prefixes every entry with the device attributes.
type deviceLogger struct {
	next  Logger
	attrs []any
}

func withDevice(l Logger, id device.Identity) deviceLogger {
	return deviceLogger{next: l, attrs: []any{"device_id", id.ID, "family", id.Family}}
}

func (d deviceLogger) Debug(msg string, args ...any) { d.next.Debug(msg, append(d.attrs, args...)...) }
func (d deviceLogger) Info(msg string, args ...any)  { d.next.Info(msg, append(d.attrs, args...)...) }
func (d deviceLogger) Warn(msg string, args ...any)  { d.next.Warn(msg, append(d.attrs, args...)...) }
func (d deviceLogger) Error(msg string, args ...any) { d.next.Error(msg, append(d.attrs, args...)...) }

// DeviceSpec describes one managed device.
type DeviceSpec struct {
	Identity device.Identity

	// Offline forces the safe state and skips network fetches.
	Offline bool

	// RefreshInterval and DebounceDelay override the synchroniser defaults when non-zero.
	RefreshInterval time.Duration
	DebounceDelay   time.Duration
}

// Timings holds synchroniser timings shared by every device.
type Timings struct {
	ConfirmDelay     time.Duration
	RequestTimeout   time.Duration
	OfflineThreshold int
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	BridgeID       string
	Version        string
	HealthInterval time.Duration

	// MQTT is the bus client. Required.
	MQTT MQTTClient

	// Cloud and Local are the shared transport adapters. Devices whose
	// transport mode needs a missing adapter are rejected.
	Cloud transport.Adapter
	Local transport.Adapter

	// BreakerState reports the cloud breaker state for health. Optional.
	BreakerState func() string

	Publisher Publisher
	Recorder  synchronizer.Recorder

	Devices []DeviceSpec
	Timings Timings

	// Webhooks and WebhookURL enable vendor webhook registration at start.
	Webhooks   WebhookManager
	WebhookURL string

	Logger Logger
}

// Bridge owns the device synchronisers and their bus integration.
type Bridge struct {
	opts     BridgeOptions
	mqtt     MQTTClient
	registry *device.Registry
	health   *HealthReporter
	logger   Logger

	syncs map[string]*synchronizer.Synchronizer
	mu    sync.RWMutex

	commandsReceived atomic.Uint64
	commandsRejected atomic.Uint64
	webhooksReceived atomic.Uint64
	errorsTotal      atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
}

// NewBridge builds a synchroniser for every device.
//
// Parameters:
//   - opts: Bus client, adapters, collaborators and the device list
//
// Returns:
//   - *Bridge: Ready to start
//   - error: If MQTT is missing, or a device has an unknown family, a
//     duplicate ID or address, or a transport mode with no adapter
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	b := &Bridge{
		opts:     opts,
		mqtt:     opts.MQTT,
		registry: device.NewRegistry(),
		logger:   opts.Logger,
		syncs:    make(map[string]*synchronizer.Synchronizer, len(opts.Devices)),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	b.registry.SetLogger(b.logger)

	for _, ds := range opts.Devices {
		if err := b.addDevice(ds); err != nil {
			return nil, fmt.Errorf("device %s: %w", ds.Identity.ID, err)
		}
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Sample:    b.sampleHealth,
	})
	b.health.SetLogger(b.logger)

	return b, nil
}

func (b *Bridge) addDevice(ds DeviceSpec) error {
	family, err := translator.Lookup(ds.Identity.Family)
	if err != nil {
		return err
	}
	id := ds.Identity
	id.Family = family.Name()
	if id.Transport == "" {
		id.Transport = device.TransportCloud
	}
	if id.Transport == device.TransportLocal && family.LocalModel() == "" {
		return fmt.Errorf("%w: %s", ErrNoLocalModel, family.Name())
	}
	if id.Model == "" {
		id.Model = family.LocalModel()
	}
	if err := b.registry.Register(id); err != nil {
		return err
	}

	recorder := b.opts.Recorder
	s, err := synchronizer.New(synchronizer.Options{
		Identity:         id,
		Family:           family,
		Cloud:            b.opts.Cloud,
		Local:            b.opts.Local,
		Publisher:        b.opts.Publisher,
		Recorder:         recorder,
		APIError:         b.handleAPIError,
		Logger:           withDevice(b.logger, id),
		RefreshInterval:  ds.RefreshInterval,
		DebounceDelay:    ds.DebounceDelay,
		ConfirmDelay:     b.opts.Timings.ConfirmDelay,
		RequestTimeout:   b.opts.Timings.RequestTimeout,
		OfflineThreshold: b.opts.Timings.OfflineThreshold,
		Offline:          ds.Offline,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.syncs[id.ID] = s
	b.mu.Unlock()
	return nil
}

// Start subscribes to commands, starts every synchroniser and begins
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	topic := mqtt.Topics{}.AllBridgeCommands()
	if err := b.mqtt.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.registerWebhook(ctx)

	syncs := b.Devices()
	for _, s := range syncs {
		s.Start(ctx)
	}
	metrics.DevicesManaged.Set(float64(len(syncs)))

	b.health.Start(ctx)

	b.logger.Info("bridge started", "bridge_id", b.opts.BridgeID, "devices", len(syncs))
	return nil
}

// Stop stops every synchroniser, unsubscribes and publishes a final
// health status. Pending writes that were not dispatched are dropped.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.started.Load() {
			if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllBridgeCommands()); err != nil {
				b.logger.Debug("unsubscribe failed", "error", err)
			}
		}

		var wg sync.WaitGroup
		for _, s := range b.Devices() {
			wg.Add(1)
			go func(s *synchronizer.Synchronizer) {
				defer wg.Done()
				s.Stop()
			}(s)
		}
		wg.Wait()

		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// registerWebhook makes sure the vendor cloud pushes events to WebhookURL.
// Failures are logged; polling still works without webhooks.
func (b *Bridge) registerWebhook(ctx context.Context) {
	if b.opts.Webhooks == nil || b.opts.WebhookURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, webhookSetupTimeout)
	defer cancel()

	urls, err := b.opts.Webhooks.QueryWebhook(ctx)
	if err == nil {
		for _, u := range urls {
			if u == b.opts.WebhookURL {
				b.logger.Info("vendor webhook already registered", "url", u)
				return
			}
		}
	}
	if err := b.opts.Webhooks.SetupWebhook(ctx, b.opts.WebhookURL); err != nil {
		b.logger.Warn("vendor webhook registration failed", "url", b.opts.WebhookURL, "error", err)
		return
	}
	b.logger.Info("vendor webhook registered", "url", b.opts.WebhookURL)
}

// RemoveDevice stops a device's synchroniser, drops its pending write and
// removes its services from the host registry.
func (b *Bridge) RemoveDevice(key string) error {
	id, err := b.registry.Lookup(key)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}

	b.mu.Lock()
	s := b.syncs[id.ID]
	delete(b.syncs, id.ID)
	b.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	//nolint:errcheck // Presence checked by Lookup above
	b.registry.Unregister(id.ID)
	if b.opts.Publisher != nil {
		b.opts.Publisher.Retire(id)
	}
	metrics.DevicesManaged.Set(float64(b.registry.Count()))

	b.logger.Info("device removed", "device_id", id.ID)
	return nil
}

// Device returns the synchroniser for a vendor ID or BLE address.
func (b *Bridge) Device(key string) (*synchronizer.Synchronizer, error) {
	id, err := b.registry.Lookup(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}
	b.mu.RLock()
	s, ok := b.syncs[id.ID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}
	return s, nil
}

// Devices returns every synchroniser in ID order.
func (b *Bridge) Devices() []*synchronizer.Synchronizer {
	ids := b.registry.List()
	out := make([]*synchronizer.Synchronizer, 0, len(ids))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range ids {
		if s, ok := b.syncs[id.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Stats returns registry statistics.
func (b *Bridge) Stats() device.Stats {
	return b.registry.GetStats()
}

// RequestCapability applies a capability write to a device. Only
// ErrUnknownDevice and validation errors wrapping device.ErrInvalidValue
// are returned.
func (b *Bridge) RequestCapability(deviceID string, field device.Field, value any) error {
	s, err := b.Device(deviceID)
	if err != nil {
		return err
	}
	return s.RequestCapability(field, value)
}

// handleCommand processes a bus command. It always acknowledges on the
// device's ack topic, and returns the rejection error for logging.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.DeviceID = topicDevice(topic)
		b.reject(cmd, ErrCodeInvalidMessage, "invalid JSON payload")
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice(topic)
	}
	if cmd.DeviceID == "" || cmd.Field == "" {
		b.reject(cmd, ErrCodeInvalidMessage, "device_id and field are required")
		return fmt.Errorf("%w: missing device_id or field", ErrInvalidMessage)
	}

	err := b.RequestCapability(cmd.DeviceID, device.Field(cmd.Field), cmd.Value)
	switch {
	case err == nil:
		b.logger.Debug("command accepted",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"field", cmd.Field,
			"source", cmd.Source,
		)
		b.ack(NewAckMessage(cmd))
		return nil
	case errors.Is(err, ErrUnknownDevice):
		b.reject(cmd, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, device.ErrInvalidValue):
		b.reject(cmd, ErrCodeInvalidParameters, err.Error())
	default:
		b.reject(cmd, ErrCodeBridgeError, err.Error())
	}
	return err
}

func (b *Bridge) reject(cmd CommandMessage, code, message string) {
	b.commandsRejected.Add(1)
	b.ack(NewAckError(cmd, code, message))
}

func (b *Bridge) ack(msg AckMessage) {
	if msg.DeviceID == "" {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.BridgeAck(msg.DeviceID), payload, 1, false); err != nil {
		b.logger.Warn("failed to publish ack", "device_id", msg.DeviceID, "error", err)
	}
}

// handleAPIError reports an asynchronous device failure on the error topic.
func (b *Bridge) handleAPIError(id device.Identity, err error) {
	b.errorsTotal.Add(1)

	msg := NewErrorMessage(id.ID, err)
	b.logger.Warn("device error",
		"device_id", id.ID,
		"code", msg.Code,
		"attempts", msg.Attempts,
		"error", err,
	)

	payload, mErr := json.Marshal(msg)
	if mErr != nil {
		b.logger.Error("failed to marshal error message", "error", mErr)
		return
	}
	if pErr := b.mqtt.Publish(mqtt.Topics{}.BridgeError(id.ID), payload, 1, false); pErr != nil {
		b.logger.Debug("failed to publish device error", "device_id", id.ID, "error", pErr)
	}
}

func (b *Bridge) sampleHealth() HealthSnapshot {
	syncs := b.Devices()
	offline := 0
	for _, s := range syncs {
		if s.Offline() {
			offline++
		}
	}
	snap := HealthSnapshot{
		DevicesManaged: len(syncs),
		DevicesOffline: offline,
		Statistics: BridgeStatistics{
			CommandsReceived: b.commandsReceived.Load(),
			CommandsRejected: b.commandsRejected.Load(),
			WebhooksReceived: b.webhooksReceived.Load(),
			Errors:           b.errorsTotal.Load(),
		},
	}
	if b.opts.BreakerState != nil {
		snap.Breaker = b.opts.BreakerState()
	}
	return snap
}

// HealthStatus returns the status the next health report would carry.
func (b *Bridge) HealthStatus() (HealthStatus, string) {
	return b.health.Current()
}

// topicDevice extracts the device ID from graylogic/command/switchbot/{id}.
func topicDevice(topic string) string {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	id := topic[i+1:]
	if id == "#" || id == mqtt.Protocol {
		return ""
	}
	return id
}
