package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
)

var (
	// Refresh Metrics
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_refresh_total",
			Help: "Total number of device state refreshes",
		},
		[]string{"transport", "result"}, // result: "ok", "error"
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchbot_refresh_duration_seconds",
			Help:    "Duration of device state refreshes in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"transport"},
	)

	RefreshSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_refresh_skipped_total",
			Help: "Total number of refresh ticks skipped because the device was busy",
		},
		[]string{"sync_state"},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchbot_parse_errors_total",
			Help: "Total number of status fields dropped because they could not be parsed",
		},
	)

	// Command Metrics
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_commands_total",
			Help: "Total number of vendor commands by outcome",
		},
		[]string{"transport", "outcome"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchbot_command_duration_seconds",
			Help:    "Duration of vendor commands in seconds, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"transport"},
	)

	CommandAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchbot_command_attempts",
			Help:    "Number of attempts per vendor command",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// Device Metrics
	DevicesOffline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchbot_devices_offline",
			Help: "Current number of devices publishing their offline safe state",
		},
	)

	DevicesManaged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchbot_devices_managed",
			Help: "Current number of devices with a running synchroniser",
		},
	)

	// Transport Metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchbot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	TransportRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_transport_retries_total",
			Help: "Total number of retried transport requests",
		},
		[]string{"breaker"},
	)

	// Publisher Metrics
	PublisherDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchbot_publisher_superseded_total",
			Help: "Total number of snapshots replaced by a newer one before being published",
		},
	)

	PublisherErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_publisher_errors_total",
			Help: "Total number of swallowed publish errors",
		},
		[]string{"sink"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_webhook_events_total",
			Help: "Total number of webhook events received",
		},
		[]string{"result"}, // "applied", "unknown_device", "invalid"
	)

	// WebSocket Metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchbot_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	WebSocketDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchbot_websocket_dropped_total",
			Help: "Total number of events dropped for WebSocket clients with a full send buffer",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchbot_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordAPIRequest records one API request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBreakerChange matches transport.GatewayConfig.OnBreakerChange.
func RecordBreakerChange(name string, from, to gobreaker.State) {
	BreakerState.WithLabelValues(name).Set(breakerValue(to))
	BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// RetryCounter returns a transport.GatewayConfig.OnRetry callback for the
// named breaker.
func RetryCounter(name string) func(attempt int, err error) {
	c := TransportRetries.WithLabelValues(name)
	return func(int, error) { c.Inc() }
}

// RecordWebhook counts one webhook event.
func RecordWebhook(result string) {
	WebhookEvents.WithLabelValues(result).Inc()
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Recorder implements synchronizer.Recorder on the package collectors.
type Recorder struct{}

// RefreshCompleted implements synchronizer.Recorder.
func (Recorder) RefreshCompleted(r synchronizer.RefreshResult) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	RefreshTotal.WithLabelValues(r.Transport, result).Inc()
	RefreshDuration.WithLabelValues(r.Transport).Observe(r.Duration.Seconds())
	if r.ParseErrors > 0 {
		ParseErrors.Add(float64(r.ParseErrors))
	}
}

// RefreshSkipped implements synchronizer.Recorder.
func (Recorder) RefreshSkipped(_ string, state synchronizer.SyncState) {
	RefreshSkipped.WithLabelValues(state.String()).Inc()
}

// CommandCompleted implements synchronizer.Recorder.
func (Recorder) CommandCompleted(r synchronizer.CommandResult) {
	CommandsTotal.WithLabelValues(r.Transport, r.Outcome).Inc()
	CommandDuration.WithLabelValues(r.Transport).Observe(r.Duration.Seconds())
	if r.Attempts > 0 {
		CommandAttempts.Observe(float64(r.Attempts))
	}
}

// OfflineChanged implements synchronizer.Recorder.
func (Recorder) OfflineChanged(_ string, offline bool) {
	if offline {
		DevicesOffline.Inc()
		return
	}
	DevicesOffline.Dec()
}
