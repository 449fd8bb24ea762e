package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The bridge runs without the telemetry sink in that case.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	ErrNotConnected     = errors.New("influxdb: client closed or never connected")
	ErrConnectionFailed = errors.New("influxdb: cannot reach server")

	// ErrWriteFailed wraps batch failures reported after the fact.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
