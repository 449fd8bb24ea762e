package switchbot

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// CommandMessage is sent from Core to the bridge to change one capability.
// Topic: graylogic/command/switchbot/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued.
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the vendor device ID. Falls back to the topic suffix.
	DeviceID string `json:"device_id"`

	// Field is the capability field (e.g., "power", "position").
	Field string `json:"field"`

	// Value is the requested value; validated against the field's domain.
	Value any `json:"value"`

	// Source indicates where the command originated ("api", "automation", "scene").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the request was valid and is queued for dispatch.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the request was rejected.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/switchbot/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and device failures.
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeVendorRejected    = "VENDOR_REJECTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorMessage reports an asynchronous device failure.
// Topic: graylogic/error/switchbot/{device_id}
type ErrorMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`

	// VendorStatus is the vendor statusCode when the cloud answered.
	VendorStatus int `json:"vendor_status,omitempty"`

	// Attempts is the number of attempts the retry policy used.
	Attempts int `json:"attempts,omitempty"`
}

// StateMessage carries a whole capability snapshot.
// Topic: graylogic/state/switchbot/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Family    string         `json:"family"`
	Source    string         `json:"source"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/switchbot
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	DevicesManaged int               `json:"devices_managed"`
	DevicesOffline int               `json:"devices_offline"`
	Breaker        string            `json:"cloud_breaker,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsRejected uint64 `json:"commands_rejected"`
	WebhooksReceived uint64 `json:"webhooks_received"`
	Errors           uint64 `json:"errors"`
}

// NewAckMessage creates an accepted acknowledgment.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  "switchbot",
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewErrorMessage classifies err into an ErrorMessage.
func NewErrorMessage(deviceID string, err error) ErrorMessage {
	msg := ErrorMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Code:      errorCode(err),
		Message:   err.Error(),
		Attempts:  transport.Attempts(err),
	}
	var se *transport.StatusError
	if errors.As(err, &se) {
		msg.VendorStatus = se.VendorStatus
	}
	return msg
}

// errorCode maps the error taxonomy to bus error codes.
func errorCode(err error) string {
	if errors.Is(err, device.ErrInvalidValue) {
		return ErrCodeInvalidParameters
	}
	switch transport.Classify(err) {
	case transport.ErrVendorRejected:
		return ErrCodeVendorRejected
	case transport.ErrTransportTimeout, transport.ErrBusy:
		return ErrCodeTimeout
	case transport.ErrDeviceUnreachable, transport.ErrLocalUnsupported:
		return ErrCodeDeviceUnreachable
	}
	return ErrCodeBridgeError
}

// NewStateMessage creates a state message.
func NewStateMessage(id device.Identity, state device.State, source string, at time.Time) StateMessage {
	return StateMessage{
		DeviceID:  id.ID,
		Timestamp: at,
		Family:    id.Family,
		Source:    source,
		State:     state.Map(),
		Protocol:  "switchbot",
	}
}

// NewLWTMessage creates the Last Will and Testament payload.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
