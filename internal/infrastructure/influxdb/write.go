package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementDeviceState = "switchbot_state"
	MeasurementCommand     = "switchbot_command"
)

// WriteDeviceState records the numeric and boolean fields of a capability
// snapshot. Strings and other types are skipped; booleans are stored as 0/1
// so they can be graphed next to numeric fields.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Vendor device ID
//   - family: Device family tag (e.g., "curtain")
//   - fields: Capability fields keyed by name
//   - ts: Observation time
func (c *Client) WriteDeviceState(deviceID, family string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := buildStatePoint(deviceID, family, fields, ts)
	if point == nil {
		return
	}
	c.writer.WritePoint(point)
}

// WriteCommandOutcome records one command dispatch.
//
// Parameters:
//   - deviceID: Vendor device ID
//   - transport: "cloud" or "local"
//   - outcome: "ack", "rejected", "timeout" or "unreachable"
//   - attempts: Attempts used by the retry policy
//   - latency: Time from dispatch to result
func (c *Client) WriteCommandOutcome(deviceID, transport, outcome string, attempts int, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"device_id": deviceID,
			"transport": transport,
			"outcome":   outcome,
		},
		map[string]any{
			"attempts":   attempts,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	))
}

// buildStatePoint converts capability fields into a point, or nil when no
// field is representable.
func buildStatePoint(deviceID, family string, fields map[string]any, ts time.Time) *write.Point {
	values := make(map[string]any, len(fields))
	for name, v := range fields {
		switch val := v.(type) {
		case bool:
			if val {
				values[name] = 1
			} else {
				values[name] = 0
			}
		case int:
			values[name] = val
		case int64:
			values[name] = val
		case float64:
			values[name] = val
		}
	}
	if len(values) == 0 {
		return nil
	}

	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{
			"device_id": deviceID,
			"family":    family,
		},
		values,
		ts,
	)
}
