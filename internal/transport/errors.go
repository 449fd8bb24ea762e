package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Transport error kinds. Every failure returned by an Adapter wraps exactly
// one of these, so callers can classify with errors.Is.
var (
	// ErrTransportTimeout means no usable response arrived within the bound:
	// connect failures, request timeouts, scan windows with no match.
	ErrTransportTimeout = errors.New("transport: timeout")

	// ErrVendorRejected means a well-formed response refused the command or device.
	ErrVendorRejected = errors.New("transport: vendor rejected request")

	// ErrDeviceUnreachable means the device could not be contacted at all,
	// including while the circuit breaker is open.
	ErrDeviceUnreachable = errors.New("transport: device unreachable")

	// ErrLocalUnsupported is returned by the local adapter for families with
	// no BLE model tag or devices without an address.
	ErrLocalUnsupported = errors.New("transport: local transport not supported for device")

	// ErrBusy is a vendor "device busy" or rate-limit answer. It is transient.
	ErrBusy = errors.New("transport: device busy")

	// ErrNoCredentials is returned when the cloud client has no header source.
	ErrNoCredentials = errors.New("transport: cloud credentials not configured")
)

// Vendor status codes seen in the cloud body's statusCode field.
const (
	VendorOK              = 100
	VendorOKAlt           = 200
	VendorDeviceTypeError = 151
	VendorDeviceNotFound  = 152
	VendorUnsupported     = 160
	VendorDeviceOffline   = 161
	VendorHubOffline      = 171
	VendorBusy            = 190
)

// StatusError carries the HTTP and vendor codes of a failed cloud call.
type StatusError struct {
	HTTPStatus   int
	VendorStatus int
	Message      string

	// Kind is the taxonomy error this status maps to.
	Kind error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (http %d, vendor %d): %s", e.Kind, e.HTTPStatus, e.VendorStatus, e.Message)
}

// Unwrap returns the taxonomy kind.
func (e *StatusError) Unwrap() error { return e.Kind }

// successCode reports whether a code counts as success on either layer.
func successCode(code int) bool {
	return code == VendorOK || code == VendorOKAlt
}

// classifyStatus maps a non-successful HTTP/vendor pair to a StatusError.
// The HTTP layer is checked first; a vendor code is only meaningful when the
// HTTP layer succeeded.
func classifyStatus(httpStatus, vendorStatus int, message string) *StatusError {
	se := &StatusError{HTTPStatus: httpStatus, VendorStatus: vendorStatus, Message: message}

	switch {
	case !successCode(httpStatus):
		switch {
		case httpStatus == http.StatusTooManyRequests:
			se.Kind = ErrBusy
		case httpStatus >= http.StatusInternalServerError:
			se.Kind = ErrTransportTimeout
		default:
			se.Kind = ErrVendorRejected
		}
	case vendorStatus == VendorBusy:
		se.Kind = ErrBusy
	default:
		// 151, 152, 160, 161, 171 and anything else unrecognised.
		se.Kind = ErrVendorRejected
	}
	return se
}

// Classify returns the taxonomy kind for err, or nil when err is nil.
// Context deadlines and network errors map to ErrTransportTimeout; anything
// unrecognised maps to ErrDeviceUnreachable.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVendorRejected):
		return ErrVendorRejected
	case errors.Is(err, ErrBusy):
		return ErrBusy
	case errors.Is(err, ErrTransportTimeout):
		return ErrTransportTimeout
	case errors.Is(err, ErrLocalUnsupported):
		return ErrLocalUnsupported
	case errors.Is(err, ErrDeviceUnreachable):
		return ErrDeviceUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTransportTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransportTimeout
	}
	return ErrDeviceUnreachable
}

// IsTransient reports whether retrying the same request may succeed.
// Cancellation by the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case ErrTransportTimeout, ErrBusy:
		return true
	}
	return false
}
