package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/bridges/switchbot"
)

// SystemMetrics is the JSON summary served on /api/v1/metrics, for
// dashboards that do not scrape Prometheus.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Health        HealthMetrics   `json:"health"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// HealthMetrics is the bridge health as published on the health topic.
type HealthMetrics struct {
	Status switchbot.HealthStatus `json:"status"`
	Reason string                 `json:"reason,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics summarises the managed devices. BySyncState counts
// idle, refresh_in_flight and write_in_flight; PendingWrites counts devices
// holding a debounced write that has not been dispatched yet.
type DeviceMetrics struct {
	Total         int            `json:"total"`
	Offline       int            `json:"offline"`
	PendingWrites int            `json:"pending_writes"`
	BySyncState   map[string]int `json:"by_sync_state"`
	ByFamily      map[string]int `json:"by_family"`
	ByTransport   map[string]int `json:"by_transport"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status, reason := s.bridge.HealthStatus()
	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Health:        HealthMetrics{Status: status, Reason: reason},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / (1 << 20),
			MemoryTotalMB: float64(mem.TotalAlloc) / (1 << 20),
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		MQTT:      MQTTMetrics{Connected: s.mqtt != nil && s.mqtt.IsConnected()},
		Devices:   s.deviceMetrics(),
	}

	if s.db != nil {
		st := s.db.Stats()
		m.Database = DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deviceMetrics() DeviceMetrics {
	stats := s.bridge.Stats()
	dm := DeviceMetrics{
		Total:       stats.Total,
		ByFamily:    stats.ByFamily,
		BySyncState: make(map[string]int),
		ByTransport: make(map[string]int, len(stats.ByTransport)),
	}
	for mode, n := range stats.ByTransport {
		dm.ByTransport[string(mode)] = n
	}
	for _, dev := range s.bridge.Devices() {
		dm.BySyncState[dev.SyncState().String()]++
		if dev.Offline() {
			dm.Offline++
		}
		if dev.Pending() != nil {
			dm.PendingWrites++
		}
	}
	return dm
}
