package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

func TestRecorderRefresh(t *testing.T) {
	var rec synchronizer.Recorder = Recorder{}

	okBefore := testutil.ToFloat64(RefreshTotal.WithLabelValues("cloud", "ok"))
	errBefore := testutil.ToFloat64(RefreshTotal.WithLabelValues("local", "error"))
	parseBefore := testutil.ToFloat64(ParseErrors)

	rec.RefreshCompleted(synchronizer.RefreshResult{DeviceID: "a", Transport: "cloud", ParseErrors: 2, Duration: time.Millisecond})
	rec.RefreshCompleted(synchronizer.RefreshResult{DeviceID: "a", Transport: "local", Err: errors.New("scan timeout")})

	if got := testutil.ToFloat64(RefreshTotal.WithLabelValues("cloud", "ok")) - okBefore; got != 1 {
		t.Errorf("ok refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RefreshTotal.WithLabelValues("local", "error")) - errBefore; got != 1 {
		t.Errorf("failed refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ParseErrors) - parseBefore; got != 2 {
		t.Errorf("parse errors = %v, want 2", got)
	}
}

func TestRecorderSkipped(t *testing.T) {
	c := RefreshSkipped.WithLabelValues("write_in_flight")
	before := testutil.ToFloat64(c)

	Recorder{}.RefreshSkipped("a", synchronizer.WriteInFlight)

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
}

func TestRecorderCommand(t *testing.T) {
	c := CommandsTotal.WithLabelValues(transport.NameCloud, "rejected")
	before := testutil.ToFloat64(c)

	Recorder{}.CommandCompleted(synchronizer.CommandResult{
		DeviceID:  "a",
		Command:   transport.Command{Command: "turnOn", Parameter: "default", CommandType: "command"},
		Transport: transport.NameCloud,
		Outcome:   "rejected",
		Attempts:  1,
	})

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("commands = %v, want 1", got)
	}
}

func TestRecorderOffline(t *testing.T) {
	before := testutil.ToFloat64(DevicesOffline)

	Recorder{}.OfflineChanged("a", true)
	Recorder{}.OfflineChanged("b", true)
	Recorder{}.OfflineChanged("a", false)

	if got := testutil.ToFloat64(DevicesOffline) - before; got != 1 {
		t.Errorf("offline delta = %v, want 1", got)
	}
}

func TestRecordBreakerChange(t *testing.T) {
	tests := []struct {
		to   gobreaker.State
		want float64
	}{
		{gobreaker.StateOpen, 2},
		{gobreaker.StateHalfOpen, 1},
		{gobreaker.StateClosed, 0},
	}
	from := gobreaker.StateClosed
	for _, tt := range tests {
		RecordBreakerChange("cloud-test", from, tt.to)
		if got := testutil.ToFloat64(BreakerState.WithLabelValues("cloud-test")); got != tt.want {
			t.Errorf("state after %s = %v, want %v", tt.to, got, tt.want)
		}
		from = tt.to
	}

	if got := testutil.ToFloat64(BreakerTransitions.WithLabelValues("cloud-test", "closed", "open")); got != 1 {
		t.Errorf("closed->open transitions = %v, want 1", got)
	}
}

func TestRetryCounter(t *testing.T) {
	fn := RetryCounter("retry-test")
	fn(1, errors.New("x"))
	fn(2, errors.New("x"))

	if got := testutil.ToFloat64(TransportRetries.WithLabelValues("retry-test")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("GET", "/api/v1/health", 200, 3*time.Millisecond)

	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/health", "200")); got < 1 {
		t.Errorf("api requests = %v", got)
	}
}
