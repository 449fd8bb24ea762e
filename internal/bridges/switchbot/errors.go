package switchbot

import "errors"

// Domain errors for the bridge package.
var (
	// ErrUnknownDevice is returned when a command or webhook names a device
	// the bridge does not manage.
	ErrUnknownDevice = errors.New("switchbot: unknown device")

	// ErrInvalidMessage is returned when a bus message or webhook payload
	// cannot be decoded.
	ErrInvalidMessage = errors.New("switchbot: invalid message")

	// ErrNoLocalModel is returned when a device is configured local-only but
	// its family has no BLE advertisement model.
	ErrNoLocalModel = errors.New("switchbot: family has no local transport")

	// ErrAlreadyStarted is returned by Start when called twice.
	ErrAlreadyStarted = errors.New("switchbot: bridge already started")
)
