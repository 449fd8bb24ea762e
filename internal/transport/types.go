package transport

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// Transport names used in Ack, logs, metrics and the command log.
const (
	NameCloud   = "cloud"
	NameLocal   = "local"
	NameWebhook = "webhook"
)

// Command category values for the commandType body field.
const (
	CommandTypeCommand   = "command"
	CommandTypeCustomize = "customize"
)

// DefaultParameter is sent for commands that take no argument.
const DefaultParameter = "default"

// Adapter is one way of talking to a device: fetch its raw state or send it
// a command. Both cloud and local transports implement it, as does Gateway.
type Adapter interface {
	// FetchState returns the device's current raw status.
	FetchState(ctx context.Context, id device.Identity) (RawStatus, error)

	// SendCommand dispatches one command and returns the vendor acknowledgement.
	SendCommand(ctx context.Context, id device.Identity, cmd Command) (Ack, error)
}

// RawStatus is a transport-specific status payload. Only the family
// translator interprets Fields.
type RawStatus struct {
	// Source is the transport that produced the payload (cloud, local, webhook).
	Source string `json:"source"`

	// Fields holds the decoded body, serviceData or webhook context.
	Fields map[string]any `json:"fields"`

	// ReceivedAt is when the payload arrived.
	ReceivedAt time.Time `json:"received_at"`
}

// Command is one outbound vendor instruction. It is built fresh for every
// dispatch and is comparable, so identical requests produce equal values.
type Command struct {
	Command     string `json:"command"`
	Parameter   string `json:"parameter"`
	CommandType string `json:"commandType"`
}

// Ack is a successful command acknowledgement.
type Ack struct {
	// StatusCode is the vendor status code (100 or 200 on success).
	StatusCode int `json:"status_code"`

	// Message is the vendor message, if any.
	Message string `json:"message,omitempty"`

	// Attempts is how many sends were needed, including the successful one.
	Attempts int `json:"attempts"`

	// Transport names the transport that delivered the command.
	Transport string `json:"transport"`
}
