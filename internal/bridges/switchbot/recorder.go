package switchbot

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
)

// commandLogTimeout bounds one command log insert.
const commandLogTimeout = 2 * time.Second

// OutcomeWriter receives command outcomes for time-series storage.
type OutcomeWriter interface {
	WriteCommandOutcome(deviceID, transport, outcome string, attempts int, latency time.Duration)
}

// CommandRecorder persists every dispatched vendor command to the command
// log and, when configured, to telemetry. Refresh events are ignored.
type CommandRecorder struct {
	repo      device.CommandLogRepository
	telemetry OutcomeWriter
	logger    Logger
}

// NewCommandRecorder creates a recorder. Either destination may be nil.
func NewCommandRecorder(repo device.CommandLogRepository, telemetry OutcomeWriter, logger Logger) *CommandRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandRecorder{repo: repo, telemetry: telemetry, logger: logger}
}

// CommandCompleted implements synchronizer.Recorder.
func (r *CommandRecorder) CommandCompleted(res synchronizer.CommandResult) {
	if r.telemetry != nil {
		r.telemetry.WriteCommandOutcome(res.DeviceID, res.Transport, res.Outcome, res.Attempts, res.Duration)
	}
	if r.repo == nil {
		return
	}

	entry := device.CommandLogEntry{
		DeviceID:    res.DeviceID,
		Command:     res.Command.Command,
		Parameter:   res.Command.Parameter,
		CommandType: res.Command.CommandType,
		Transport:   res.Transport,
		Outcome:     res.Outcome,
		Attempts:    res.Attempts,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandLogTimeout)
	defer cancel()
	if err := r.repo.RecordCommand(ctx, entry); err != nil {
		r.logger.Warn("failed to record command", "device_id", res.DeviceID, "error", err)
	}
}

// RefreshCompleted implements synchronizer.Recorder.
func (r *CommandRecorder) RefreshCompleted(synchronizer.RefreshResult) {}

// RefreshSkipped implements synchronizer.Recorder.
func (r *CommandRecorder) RefreshSkipped(string, synchronizer.SyncState) {}

// OfflineChanged implements synchronizer.Recorder.
func (r *CommandRecorder) OfflineChanged(deviceID string, offline bool) {
	if offline {
		r.logger.Warn("device offline", "device_id", deviceID)
		return
	}
	r.logger.Info("device back online", "device_id", deviceID)
}
