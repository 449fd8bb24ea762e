package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/mqtt"
)

// scannerBuffer is the per-scan advertisement queue. Advertisements arriving
// while it is full are dropped; the next broadcast follows within seconds.
const scannerBuffer = 32

// ErrDriverStopped is returned by MQTTGatewayDriver when Start has not been
// called or Stop has.
var ErrDriverStopped = errors.New("transport: ble gateway driver not running")

// PubSub is the subset of the MQTT client the gateway driver needs.
type PubSub interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTGatewayDriver implements Driver on top of an ESP32-style BLE to MQTT
// gateway. The gateway publishes every decoded advertisement to
// {prefix}/adv/{address} as {"address","model","service_data","rssi"} and
// accepts {"command","parameter","commandType"} on {prefix}/cmd/{address}.
type MQTTGatewayDriver struct {
	client PubSub
	prefix string
	topics mqtt.Topics

	mu       sync.Mutex
	running  bool
	scanners map[int]chan Advertisement
	nextID   int

	logger Logger
}

// NewMQTTGatewayDriver creates a driver for the gateway under prefix
// (e.g., "switchbot/ble").
func NewMQTTGatewayDriver(client PubSub, prefix string) *MQTTGatewayDriver {
	return &MQTTGatewayDriver{
		client:   client,
		prefix:   strings.TrimRight(prefix, "/"),
		scanners: make(map[int]chan Advertisement),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the driver.
func (d *MQTTGatewayDriver) SetLogger(logger Logger) {
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

// Start subscribes to the gateway's advertisement topics.
func (d *MQTTGatewayDriver) Start() error {
	if err := d.client.Subscribe(d.topics.GatewayAdvertisements(d.prefix), 0, d.handleAdvertisement); err != nil {
		return fmt.Errorf("subscribing to ble gateway: %w", err)
	}
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	return nil
}

// Stop unsubscribes. Scans in progress end at their deadline.
func (d *MQTTGatewayDriver) Stop() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return d.client.Unsubscribe(d.topics.GatewayAdvertisements(d.prefix))
}

// handleAdvertisement fans one advertisement out to every active scan.
func (d *MQTTGatewayDriver) handleAdvertisement(topic string, payload []byte) error {
	if !mqtt.MatchFilter(d.topics.GatewayAdvertisements(d.prefix), topic) {
		return fmt.Errorf("advertisement on unexpected topic %s", topic)
	}
	var adv Advertisement
	if err := json.Unmarshal(payload, &adv); err != nil {
		return fmt.Errorf("decoding advertisement on %s: %w", topic, err)
	}
	if adv.Address == "" {
		// Older gateway firmware only puts the address in the topic.
		adv.Address = topic[strings.LastIndex(topic, "/")+1:]
	}
	adv.ReceivedAt = time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.scanners {
		select {
		case ch <- adv:
		default:
		}
	}
	return nil
}

// Scan implements Driver. handle runs on the calling goroutine.
func (d *MQTTGatewayDriver) Scan(ctx context.Context, handle func(Advertisement) bool) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDriverStopped
	}
	id := d.nextID
	d.nextID++
	ch := make(chan Advertisement, scannerBuffer)
	d.scanners[id] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.scanners, id)
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case adv := <-ch:
			if handle(adv) {
				return nil
			}
		}
	}
}

// Send implements Driver by publishing to the gateway's command topic.
func (d *MQTTGatewayDriver) Send(_ context.Context, address string, cmd Command) error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return ErrDriverStopped
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	topic := d.topics.GatewayCommand(d.prefix, device.NormalizeAddress(address))
	if err := d.client.Publish(topic, payload, 1, false); err != nil {
		return fmt.Errorf("publishing to ble gateway: %w", err)
	}
	return nil
}
