package switchbot

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/mqtt"
)

const (
	defaultHeartbeat = 30 * time.Second
	maxCheckInterval = 5 * time.Second
	breakerOpen      = "open"
)

// HealthPublisher is the slice of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSnapshot is the bridge state a health report is derived from.
type HealthSnapshot struct {
	MQTTConnected  bool
	DevicesManaged int
	DevicesOffline int
	Breaker        string
	Statistics     BridgeStatistics
}

// assessHealth maps a snapshot to a status. The first failing check wins.
func assessHealth(s HealthSnapshot) (HealthStatus, string) {
	switch {
	case !s.MQTTConnected:
		return HealthDegraded, "MQTT disconnected"
	case s.Breaker == breakerOpen:
		return HealthDegraded, "cloud circuit open"
	case s.DevicesManaged > 0 && s.DevicesOffline == s.DevicesManaged:
		return HealthDegraded, "all devices offline"
	}
	return HealthHealthy, ""
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is the heartbeat period. A report is also sent as soon
	// as the assessed status changes. Default: 30s.
	Interval time.Duration

	Publisher HealthPublisher

	// Sample returns device and breaker state. Optional.
	Sample func() HealthSnapshot
}

// HealthReporter keeps the retained bridge health topic current.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	heartbeat time.Duration
	check     time.Duration
	publisher HealthPublisher
	sample    func() HealthSnapshot

	mu       sync.Mutex
	last     HealthStatus
	lastSent time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter builds a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	heartbeat := cfg.Interval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	sample := cfg.Sample
	if sample == nil {
		sample = func() HealthSnapshot { return HealthSnapshot{} }
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		heartbeat: heartbeat,
		check:     min(heartbeat, maxCheckInterval),
		publisher: cfg.Publisher,
		sample:    sample,
		done:      make(chan struct{}),
	}
}

// Start publishes the current status and keeps it fresh until ctx ends
// or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.send(HealthStopping, "", h.snapshot())
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.send(HealthStarting, "bridge starting", h.snapshot())
}

// PublishNow publishes the assessed status regardless of change.
func (h *HealthReporter) PublishNow() error {
	s := h.snapshot()
	status, reason := assessHealth(s)
	return h.send(status, reason, s)
}

// Current returns the status the next report would carry.
func (h *HealthReporter) Current() (HealthStatus, string) {
	return assessHealth(h.snapshot())
}

// LWTPayload returns the Last Will payload for the MQTT connection.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

func (h *HealthReporter) run(ctx context.Context) {
	defer h.wg.Done()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	ticker := time.NewTicker(h.check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.tick(time.Now()); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// tick publishes when the status changed or the heartbeat is due.
func (h *HealthReporter) tick(now time.Time) error {
	s := h.snapshot()
	status, reason := assessHealth(s)

	h.mu.Lock()
	due := status != h.last || now.Sub(h.lastSent) >= h.heartbeat
	h.mu.Unlock()

	if !due {
		return nil
	}
	return h.send(status, reason, s)
}

func (h *HealthReporter) snapshot() HealthSnapshot {
	s := h.sample()
	s.MQTTConnected = h.publisher != nil && h.publisher.IsConnected()
	return s
}

func (h *HealthReporter) send(status HealthStatus, reason string, s HealthSnapshot) error {
	if h.publisher == nil {
		return nil
	}

	stats := s.Statistics
	payload, err := json.Marshal(HealthMessage{
		Bridge:         h.bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		DevicesManaged: s.DevicesManaged,
		DevicesOffline: s.DevicesOffline,
		Breaker:        s.Breaker,
		Statistics:     &stats,
		Reason:         reason,
	})
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(mqtt.Topics{}.BridgeHealth(), payload, 1, true); err != nil {
		return err
	}

	h.mu.Lock()
	h.last = status
	h.lastSent = time.Now()
	h.mu.Unlock()
	return nil
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
