// Package influxdb provides InfluxDB connectivity for the SwitchBot bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, non-blocking batched writes and health monitoring.
//
// The bridge writes two measurements:
//   - switchbot_state: numeric capability fields (battery, temperature,
//     humidity, position, booleans as 0/1) per published snapshot
//   - switchbot_command: per-command outcome, attempts and latency
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("C0FFEE000001", "meter",
//	    map[string]any{"temperature": 21.5, "humidity": 48}, time.Now())
package influxdb
