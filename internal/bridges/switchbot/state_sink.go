package switchbot

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-switchbot/internal/publisher"
)

// StatePublisher is the subset of MQTTClient used by StateSink.
type StatePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StateSink publishes every drained snapshot as a retained StateMessage.
type StateSink struct {
	client StatePublisher
}

// NewStateSink creates a state sink on client.
func NewStateSink(client StatePublisher) *StateSink {
	return &StateSink{client: client}
}

// Name implements publisher.Sink.
func (s *StateSink) Name() string { return "mqtt_state" }

// Write implements publisher.Sink.
func (s *StateSink) Write(_ context.Context, snap publisher.Snapshot) error {
	msg := NewStateMessage(snap.Identity, snap.State, snap.Source, snap.At)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(mqtt.Topics{}.BridgeState(snap.Identity.ID), payload, 1, true)
}
