package synchronizer

import (
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// SyncState is the per-device operation in progress. Refresh and write are
// mutually exclusive.
type SyncState int

// Sync states.
const (
	Idle SyncState = iota
	RefreshInFlight
	WriteInFlight
)

// String implements fmt.Stringer.
func (s SyncState) String() string {
	switch s {
	case Idle:
		return "idle"
	case RefreshInFlight:
		return "refresh_in_flight"
	case WriteInFlight:
		return "write_in_flight"
	}
	return "unknown"
}

// PendingWrite is the coalesced, not yet dispatched capability delta.
// A device has at most one.
type PendingWrite struct {
	Delta       device.State `json:"delta"`
	RequestedAt time.Time    `json:"requested_at"`
}

// Publisher receives every reconciled snapshot. Implementations must not
// block and must not report errors back.
type Publisher interface {
	Publish(id device.Identity, services []device.Service, state device.State, source string)
}

// APIErrorFunc is called for every asynchronous failure that the user should
// hear about: failed writes and devices going offline.
type APIErrorFunc func(id device.Identity, err error)

// RefreshResult describes one completed fetch.
type RefreshResult struct {
	DeviceID    string
	Transport   string
	Err         error
	ParseErrors int
	Duration    time.Duration
}

// CommandResult describes one dispatched vendor command.
type CommandResult struct {
	DeviceID  string
	Command   transport.Command
	Transport string
	Outcome   string
	Attempts  int
	Err       error
	Duration  time.Duration
}

// Recorder observes synchronizer activity for metrics, telemetry and the
// command log. Calls are made outside the synchronizer lock.
type Recorder interface {
	RefreshCompleted(r RefreshResult)
	RefreshSkipped(deviceID string, state SyncState)
	CommandCompleted(r CommandResult)
	OfflineChanged(deviceID string, offline bool)
}

type noopRecorder struct{}

func (noopRecorder) RefreshCompleted(RefreshResult)   {}
func (noopRecorder) RefreshSkipped(string, SyncState) {}
func (noopRecorder) CommandCompleted(CommandResult)   {}
func (noopRecorder) OfflineChanged(string, bool)      {}

// Recorders fans out to several recorders.
type Recorders []Recorder

func (rs Recorders) RefreshCompleted(r RefreshResult) {
	for _, rec := range rs {
		rec.RefreshCompleted(r)
	}
}

func (rs Recorders) RefreshSkipped(deviceID string, state SyncState) {
	for _, rec := range rs {
		rec.RefreshSkipped(deviceID, state)
	}
}

func (rs Recorders) CommandCompleted(r CommandResult) {
	for _, rec := range rs {
		rec.CommandCompleted(r)
	}
}

func (rs Recorders) OfflineChanged(deviceID string, offline bool) {
	for _, rec := range rs {
		rec.OfflineChanged(deviceID, offline)
	}
}

// Logger defines the logging interface used by the synchronizer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
