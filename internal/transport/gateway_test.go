package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// scriptedAdapter returns the scripted errors in order, then succeeds.
type scriptedAdapter struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	status RawStatus
}

func (a *scriptedAdapter) next() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) == 0 {
		return nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return err
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *scriptedAdapter) FetchState(context.Context, device.Identity) (RawStatus, error) {
	if err := a.next(); err != nil {
		return RawStatus{}, err
	}
	return a.status, nil
}

func (a *scriptedAdapter) SendCommand(context.Context, device.Identity, Command) (Ack, error) {
	if err := a.next(); err != nil {
		return Ack{}, err
	}
	return Ack{StatusCode: VendorOK, Attempts: 1, Transport: NameCloud}, nil
}

func busyErr() error {
	return &StatusError{HTTPStatus: 200, VendorStatus: VendorBusy, Kind: ErrBusy}
}

func rejectedErr() error {
	return &StatusError{HTTPStatus: 200, VendorStatus: VendorHubOffline, Kind: ErrVendorRejected}
}

func TestGatewayRetriesTransient(t *testing.T) {
	next := &scriptedAdapter{errs: []error{busyErr(), ErrTransportTimeout}}
	var retries []int
	g := NewGateway(next, GatewayConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		OnRetry:    func(attempt int, _ error) { retries = append(retries, attempt) },
	})

	ack, err := g.SendCommand(context.Background(), testCurtain, Command{Command: "turnOn"})
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if ack.Attempts != 3 || next.callCount() != 3 {
		t.Errorf("Attempts = %d, calls = %d, want 3", ack.Attempts, next.callCount())
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
}

func TestGatewayDoesNotRetryRejection(t *testing.T) {
	next := &scriptedAdapter{errs: []error{rejectedErr()}}
	g := NewGateway(next, GatewayConfig{MaxRetries: 5, RetryDelay: time.Millisecond})

	_, err := g.SendCommand(context.Background(), testCurtain, Command{Command: "turnOn"})
	if !errors.Is(err, ErrVendorRejected) {
		t.Fatalf("error = %v, want ErrVendorRejected", err)
	}
	if next.callCount() != 1 || Attempts(err) != 1 {
		t.Errorf("calls = %d, Attempts = %d, want 1", next.callCount(), Attempts(err))
	}
}

func TestGatewayExhaustsRetries(t *testing.T) {
	next := &scriptedAdapter{errs: []error{ErrTransportTimeout, ErrTransportTimeout, ErrTransportTimeout, ErrTransportTimeout}}
	g := NewGateway(next, GatewayConfig{MaxRetries: 2, RetryDelay: time.Millisecond, Exponential: true, BreakerThreshold: -1})

	_, err := g.FetchState(context.Background(), testCurtain)
	if !errors.Is(err, ErrTransportTimeout) {
		t.Fatalf("error = %v, want ErrTransportTimeout", err)
	}
	if next.callCount() != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", next.callCount())
	}
}

func TestGatewayBreakerOpens(t *testing.T) {
	var mu sync.Mutex
	var transitions []gobreaker.State
	next := &scriptedAdapter{errs: []error{ErrTransportTimeout, ErrTransportTimeout, ErrTransportTimeout}}
	g := NewGateway(next, GatewayConfig{
		MaxRetries:       0,
		RetryDelay:       time.Millisecond,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
		OnBreakerChange: func(_ string, _, to gobreaker.State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.FetchState(ctx, testCurtain); !errors.Is(err, ErrTransportTimeout) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	if g.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("BreakerState() = %v, want open", g.BreakerState())
	}

	_, err := g.FetchState(ctx, testCurtain)
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Errorf("open breaker error = %v, want ErrDeviceUnreachable", err)
	}
	if next.callCount() != 2 {
		t.Errorf("calls = %d, open breaker must not reach the adapter", next.callCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestGatewayRejectionsDoNotTripBreaker(t *testing.T) {
	next := &scriptedAdapter{errs: []error{rejectedErr(), rejectedErr(), rejectedErr()}}
	g := NewGateway(next, GatewayConfig{RetryDelay: time.Millisecond, BreakerThreshold: 2})

	for i := 0; i < 3; i++ {
		_, _ = g.SendCommand(context.Background(), testCurtain, Command{Command: "turnOn"})
	}
	if g.BreakerState() != gobreaker.StateClosed {
		t.Errorf("BreakerState() = %v, want closed", g.BreakerState())
	}
}

func TestGatewayIdempotentResend(t *testing.T) {
	// A dropped ack followed by a resend must leave the same result as one send.
	next := &scriptedAdapter{errs: []error{ErrTransportTimeout}, status: RawStatus{Fields: map[string]any{"power": "on"}}}
	g := NewGateway(next, GatewayConfig{MaxRetries: 1, RetryDelay: time.Millisecond})

	cmd := Command{Command: "turnOn", Parameter: DefaultParameter, CommandType: CommandTypeCommand}
	if _, err := g.SendCommand(context.Background(), testCurtain, cmd); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	raw, err := g.FetchState(context.Background(), testCurtain)
	if err != nil || raw.Fields["power"] != "on" {
		t.Errorf("FetchState() = %v, %v", raw, err)
	}
}

func TestGatewayContextCancel(t *testing.T) {
	next := &scriptedAdapter{errs: []error{ErrTransportTimeout, ErrTransportTimeout, ErrTransportTimeout}}
	g := NewGateway(next, GatewayConfig{MaxRetries: 10, RetryDelay: time.Hour, BreakerThreshold: -1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.FetchState(ctx, testCurtain)
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > time.Second {
		t.Error("retry loop ignored context deadline")
	}
}
