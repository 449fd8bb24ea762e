package publisher

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// HistorySink records state changes in the state history repository.
// A snapshot equal to the last one recorded for the device is skipped, so
// periodic refreshes that change nothing do not grow the table. The first
// write for a device compares against the newest stored row, so a restart
// does not duplicate it.
type HistorySink struct {
	repo device.StateHistoryRepository

	mu   sync.Mutex
	last map[string]device.State
}

// NewHistorySink creates a history sink over repo.
func NewHistorySink(repo device.StateHistoryRepository) *HistorySink {
	return &HistorySink{repo: repo, last: make(map[string]device.State)}
}

// Name implements Sink.
func (s *HistorySink) Name() string { return "history" }

// Write implements Sink.
func (s *HistorySink) Write(ctx context.Context, snap Snapshot) error {
	if len(snap.State) == 0 {
		return nil
	}

	s.mu.Lock()
	prev, seen := s.last[snap.Identity.ID]
	s.mu.Unlock()
	if !seen {
		stored, ok, err := s.repo.LatestState(ctx, snap.Identity.ID)
		if err != nil {
			return err
		}
		prev, seen = stored, ok
	}
	if seen && sameState(prev, snap.State) {
		s.mu.Lock()
		s.last[snap.Identity.ID] = snap.State.Clone()
		s.mu.Unlock()
		return nil
	}

	if err := s.repo.RecordStateChange(ctx, snap.Identity.ID, snap.State, snap.Source); err != nil {
		return err
	}

	s.mu.Lock()
	s.last[snap.Identity.ID] = snap.State.Clone()
	s.mu.Unlock()
	return nil
}

// sameState compares snapshots by printed value. Stored rows decode numbers
// as float64 while live state may hold ints.
func sameState(a, b device.State) bool {
	return maps.EqualFunc(a, b, func(x, y any) bool {
		return fmt.Sprint(x) == fmt.Sprint(y)
	})
}

// TelemetryWriter is the subset of the InfluxDB client used by TelemetrySink.
type TelemetryWriter interface {
	WriteDeviceState(deviceID, family string, fields map[string]any, ts time.Time)
}

// TelemetrySink writes numeric and boolean fields as time-series points.
type TelemetrySink struct {
	writer TelemetryWriter
}

// NewTelemetrySink creates a telemetry sink over w.
func NewTelemetrySink(w TelemetryWriter) *TelemetrySink {
	return &TelemetrySink{writer: w}
}

// Name implements Sink.
func (s *TelemetrySink) Name() string { return "influxdb" }

// Write implements Sink. The underlying writer batches asynchronously, so
// this never fails.
func (s *TelemetrySink) Write(_ context.Context, snap Snapshot) error {
	if len(snap.State) == 0 {
		return nil
	}
	s.writer.WriteDeviceState(snap.Identity.ID, snap.Identity.Family, snap.State.Map(), snap.At)
	return nil
}
