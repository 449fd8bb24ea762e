package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe routes messages matching filter to handler.
//
// Filters may use + for one level and # for the remainder, as in
// "graylogic/command/switchbot/+" or a gateway's "switchbot/ble/adv/#".
// paho runs the handler on its own goroutine. The subscription is
// remembered and replayed after every reconnect, since sessions are clean.
//
// Subscribing again to the same filter replaces its handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.trackSubscription(subscription{topic: filter, qos: qos, handler: handler})
	if err := waitToken(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.untrackSubscription(filter)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription for filter. Messages paho has already
// queued may still reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrackSubscription(filter)
	return waitToken(c.client.Unsubscribe(filter), ErrUnsubscribeFailed)
}

// restoreSubscriptions replays tracked filters after a reconnect. It runs on
// paho's connect callback, so tokens are awaited on a separate goroutine.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(filter string) {
			if err := waitToken(token, ErrSubscribeFailed); err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("restoring MQTT subscription failed", "filter", filter, "error", err)
				}
			}
		}(sub.topic)
	}
}

// waitToken waits for a paho token and wraps timeouts and failures in base.
func waitToken(token pahomqtt.Token, base error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no broker response within %v", base, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	return nil
}

func (c *Client) trackSubscription(sub subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]subscription)
	}
	c.subscriptions[sub.topic] = sub
}

func (c *Client) untrackSubscription(filter string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscriptions, filter)
}

// SubscriptionCount returns the number of tracked filters.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether filter is tracked, compared literally.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[filter]
	return ok
}
