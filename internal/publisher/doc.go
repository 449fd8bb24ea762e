// Package publisher mirrors capability snapshots into the host service
// registry and the bridge's secondary sinks.
//
// Synchronisers hand every reconciled snapshot to a Publisher, which keeps
// only the latest snapshot per device and drains them on its own goroutine.
// Publish never blocks and never reports errors to the caller: registry and
// sink failures are logged, counted and dropped. Fields absent from a
// snapshot are unknown and are never written.
//
// The registry is consumed through the Registry interface. MQTTRegistry is
// the production implementation, storing each service descriptor and each
// characteristic value as a retained MQTT message:
//
//	graylogic/core/device/{id}/service/{kind}                  descriptor
//	graylogic/core/device/{id}/service/{kind}/{characteristic} value
package publisher
