package device

import (
	"context"
	"time"
)

// State history source values.
const (
	StateHistorySourceRefresh  = "refresh"
	StateHistorySourceWebhook  = "webhook"
	StateHistorySourceCommand  = "command"
	StateHistorySourceOffline  = "offline"
	StateHistorySourceRollback = "rollback"
)

// StateHistoryEntry is one published capability snapshot.
//
// Optimistic values and rollbacks are recorded too, so a reader can see what
// the home-automation side was shown and why.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery filters a history read.
type HistoryQuery struct {
	// Limit caps the number of entries. Zero uses the repository default.
	Limit int

	// Since excludes entries at or before this instant. Zero means no bound.
	Since time.Time

	// Source restricts entries to one source value. Empty matches all.
	Source string
}

// StateHistoryRepository stores and retrieves published snapshots.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange appends a snapshot for the device.
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// QueryHistory returns matching entries, newest first.
	QueryHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error)

	// LatestState returns the most recent snapshot recorded for the device.
	// The boolean is false when nothing has been recorded yet.
	LatestState(ctx context.Context, deviceID string) (State, bool, error)

	// PruneHistory deletes entries older than the retention window.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
