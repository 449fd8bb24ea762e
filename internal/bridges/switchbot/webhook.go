package switchbot

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/metrics"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// Webhook outcomes recorded in metrics.
const (
	webhookApplied       = "applied"
	webhookUnknownDevice = "unknown_device"
	webhookInvalid       = "invalid"
)

// WebhookEvent is the vendor push payload.
//
//	{"eventType":"changeReport","eventVersion":"1",
//	 "context":{"deviceType":"WoCurtain","deviceMac":"C0FFEE000001","slidePosition":50,...}}
type WebhookEvent struct {
	EventType    string         `json:"eventType"`
	EventVersion string         `json:"eventVersion"`
	Context      map[string]any `json:"context"`
}

// DeviceMAC returns the device address carried in the event context.
func (e WebhookEvent) DeviceMAC() string {
	mac, _ := e.Context["deviceMac"].(string)
	return mac
}

// DeviceType returns the vendor device type carried in the event context.
func (e WebhookEvent) DeviceType() string {
	t, _ := e.Context["deviceType"].(string)
	return t
}

// ParseWebhook decodes a vendor push payload.
func ParseWebhook(payload []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if ev.Context == nil || ev.DeviceMAC() == "" {
		return WebhookEvent{}, fmt.Errorf("%w: context.deviceMac is required", ErrInvalidMessage)
	}
	return ev, nil
}

// HandleWebhook decodes a push payload and applies it to the device it
// names. Returns ErrInvalidMessage or ErrUnknownDevice.
func (b *Bridge) HandleWebhook(payload []byte) error {
	ev, err := ParseWebhook(payload)
	if err != nil {
		metrics.RecordWebhook(webhookInvalid)
		return err
	}
	return b.HandleWebhookEvent(ev)
}

// HandleWebhookEvent routes a decoded push to its device's synchroniser,
// bypassing the refresh guard.
func (b *Bridge) HandleWebhookEvent(ev WebhookEvent) error {
	b.webhooksReceived.Add(1)

	s, err := b.Device(ev.DeviceMAC())
	if err != nil {
		metrics.RecordWebhook(webhookUnknownDevice)
		b.logger.Debug("webhook for unmanaged device",
			"device_mac", ev.DeviceMAC(),
			"device_type", ev.DeviceType(),
		)
		return err
	}

	s.HandleWebhook(transport.RawStatus{
		Source:     transport.NameWebhook,
		Fields:     ev.Context,
		ReceivedAt: time.Now().UTC(),
	})
	metrics.RecordWebhook(webhookApplied)

	b.logger.Debug("webhook applied",
		"device_id", s.Identity().ID,
		"event_type", ev.EventType,
	)
	return nil
}
