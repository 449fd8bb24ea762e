// Package api implements the HTTP API, vendor webhook ingress and WebSocket
// feed for the SwitchBot bridge.
//
// This package provides:
//   - Webhook ingress: vendor push events routed to the owning device
//   - REST endpoints for device listing, state, history and capability writes
//   - WebSocket hub broadcasting every published capability snapshot
//   - Prometheus scrape endpoint and a JSON system summary
//   - Middleware: request IDs, request logging with route metrics, panic recovery and per-route body limits
//
// # Capability Writes
//
// PUT /api/v1/devices/{id}/capabilities/{field} applies the value
// optimistically and answers 202 once it is queued. The vendor outcome is
// observed through the state endpoints or the WebSocket feed.
//
// # Graceful Degradation
//
// History and command log endpoints answer 503 when SQLite is disabled.
// Webhook ingress is only mounted when enabled in config.
package api
