package device

import "errors"

// Domain-specific errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidValue is returned when a requested capability value is outside
	// its field's declared domain. It is reported synchronously to the caller
	// and never reaches a transport.
	ErrInvalidValue = errors.New("device: invalid capability value")

	// ErrUnknownField is returned for a field the device family does not declare.
	ErrUnknownField = errors.New("device: unknown capability field")

	// ErrReadOnlyField is returned when writing a field that only reports state.
	ErrReadOnlyField = errors.New("device: capability field is read-only")

	// ErrDeviceNotFound is returned when a device ID or address is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDuplicateDevice is returned when registering an ID twice.
	ErrDuplicateDevice = errors.New("device: already registered")

	// ErrInvalidIdentity is returned when an identity is missing required fields.
	ErrInvalidIdentity = errors.New("device: invalid identity")
)
