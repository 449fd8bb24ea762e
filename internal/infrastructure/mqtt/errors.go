package mqtt

import "errors"

// Broker errors. Check them with errors.Is; the wrapped cause carries the
// paho detail.
var (
	ErrNotConnected      = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)

// Argument errors, returned before anything is sent to the broker.
var (
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic covers empty topics and filters with misplaced wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrWildcardTopic is returned when a filter such as a gateway's
	// advertisement pattern is used as a publish topic.
	ErrWildcardTopic = errors.New("mqtt: wildcards are not allowed in publish topics")

	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
