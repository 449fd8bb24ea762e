package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteDeviceState(t *testing.T) {
	c, w := newTestClient()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.WriteDeviceState("AA", "meter", map[string]any{
		"temperature": 21.5,
		"humidity":    48,
		"lowBattery":  true,
		"contact":     "detected",
	}, ts)

	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementDeviceState {
		t.Errorf("measurement = %q", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("time = %v, want %v", p.Time(), ts)
	}

	tags := tagMap(p)
	if tags["device_id"] != "AA" || tags["family"] != "meter" {
		t.Errorf("tags = %v", tags)
	}

	fields := fieldMap(p)
	if fields["temperature"] != 21.5 {
		t.Errorf("temperature = %v", fields["temperature"])
	}
	if fields["humidity"] != int64(48) {
		t.Errorf("humidity = %v (%T)", fields["humidity"], fields["humidity"])
	}
	if fields["lowBattery"] != int64(1) {
		t.Errorf("lowBattery = %v (%T)", fields["lowBattery"], fields["lowBattery"])
	}
	if _, ok := fields["contact"]; ok {
		t.Error("string field should be skipped")
	}
}

func TestWriteDeviceState_NothingNumeric(t *testing.T) {
	c, w := newTestClient()
	c.WriteDeviceState("AA", "contact", map[string]any{"contact": "detected"}, time.Now())

	if len(w.points) != 0 {
		t.Errorf("points written = %d, want 0", len(w.points))
	}
}

func TestWriteCommandOutcome(t *testing.T) {
	c, w := newTestClient()
	c.WriteCommandOutcome("AA", "cloud", "ack", 2, 150*time.Millisecond)

	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1", len(w.points))
	}
	fields := fieldMap(w.points[0])
	if fields["attempts"] != int64(2) || fields["latency_ms"] != int64(150) {
		t.Errorf("fields = %v", fields)
	}
	if tagMap(w.points[0])["outcome"] != "ack" {
		t.Errorf("tags = %v", tagMap(w.points[0]))
	}
}

func TestWrites_Disconnected(t *testing.T) {
	c, w := newTestClient()
	c.connected = false

	c.WriteDeviceState("AA", "meter", map[string]any{"temperature": 1.0}, time.Now())
	c.WriteCommandOutcome("AA", "cloud", "ack", 1, 0)
	c.Flush()

	if len(w.points) != 0 || w.flushes != 0 {
		t.Errorf("disconnected client wrote %d points, %d flushes", len(w.points), w.flushes)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.InfluxDBConfig{Tags: map[string]string{"site": "home"}})
	if got := opts.BatchSize(); got != defaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", got, defaultBatchSize)
	}
	if got := opts.FlushInterval(); got != defaultFlushSeconds*1000 {
		t.Errorf("FlushInterval() = %d ms, want %d", got, defaultFlushSeconds*1000)
	}
	if tags := opts.WriteOptions().DefaultTags(); tags["site"] != "home" {
		t.Errorf("DefaultTags() = %v, want site=home", tags)
	}

	opts = clientOptions(config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2})
	if opts.BatchSize() != 20 || opts.FlushInterval() != 2000 {
		t.Errorf("configured options = %d/%d", opts.BatchSize(), opts.FlushInterval())
	}
}
