package mqtt

import (
	"fmt"

	"github.com/goccy/go-json"
)

// maxPayloadSize caps a single message at 1MB. Characteristic values and
// acks are a few hundred bytes; anything near the cap is a bug upstream.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
//
// Characteristic values and bridge health are published retained so a
// restarted consumer sees current state at once. Acks, errors and gateway
// commands are not. A nil retained payload clears the topic.
//
// Parameters:
//   - topic: A concrete topic; filters with + or # are rejected
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for new subscribers
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes on %s (limit %d)", ErrPayloadTooLarge, n, topic, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return waitToken(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishJSON encodes v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %T for %s: %w", ErrPublishFailed, v, topic, err)
	}
	return c.Publish(topic, payload, c.defaultQoS(), retained)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.defaultQoS(), true)
}

// ClearRetained removes the retained message stored for topic, used when a
// device or one of its services is retired.
func (c *Client) ClearRetained(topic string) error {
	return c.Publish(topic, nil, c.defaultQoS(), true)
}

func (c *Client) defaultQoS() byte {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return 1
	}
	return byte(c.cfg.QoS)
}
