// Package device holds the domain core of the SwitchBot bridge: device
// identities, capability fields and their value domains, state snapshots,
// and the SQLite-backed history and command log.
//
// # Key Types
//
//   - Identity: immutable description of one vendor device (ID, family, BLE address, transport)
//   - Field / State: named capability values; a missing field means "unknown"
//   - Domain: declared value range of a field, used to reject bad commands early
//   - Registry: thread-safe lookup by vendor ID or BLE address
//
// # Persistence
//
// StateHistoryRepository keeps every published snapshot with its source
// (refresh, webhook, command, offline, rollback). CommandLogRepository keeps
// every vendor command with its transport, outcome and attempt count. Both
// use tables created by the migrations package.
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. State values are plain maps;
// callers that share them must Clone first.
package device
