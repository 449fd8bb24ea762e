// Package metrics exposes Prometheus collectors for the bridge.
//
// Collectors are registered on the default registry at package init through
// promauto and served by the API's /metrics endpoint. Recorder adapts them to
// synchronizer.Recorder so every device synchroniser reports refresh, command
// and offline activity without knowing about Prometheus.
package metrics
