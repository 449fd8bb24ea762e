// Package transport implements the two ways the bridge reaches a device:
// the vendor cloud REST API and a local BLE channel, plus the retry gateway
// that wraps the cloud path.
//
// # Adapters
//
//   - CloudClient: request/response against {base}/devices/{id}/status and
//     {base}/devices/{id}/commands, signed headers, account-wide rate limit
//   - LocalAdapter: bounded scan windows over a Driver, with its own resend count
//   - MQTTGatewayDriver: a Driver fed by a BLE to MQTT gateway
//   - Gateway: bounded retries (cenkalti/backoff) and a circuit breaker
//     (sony/gobreaker) around any Adapter
//
// # Errors
//
// Every failure wraps one of ErrTransportTimeout, ErrVendorRejected,
// ErrDeviceUnreachable, ErrBusy or ErrLocalUnsupported. Classify and
// IsTransient are the only places that decide retry eligibility.
package transport
