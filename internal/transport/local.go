package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

const (
	defaultScanDuration    = 2 * time.Second
	defaultLocalRetryDelay = 500 * time.Millisecond
)

// Advertisement is one decoded BLE advertisement.
type Advertisement struct {
	Address     string         `json:"address"`
	Model       string         `json:"model"`
	ServiceData map[string]any `json:"service_data"`
	RSSI        int            `json:"rssi,omitempty"`
	ReceivedAt  time.Time      `json:"-"`
}

// Driver is the low-level BLE primitive: passive scanning plus a
// connect-and-write for commands.
type Driver interface {
	// Scan calls handle for every advertisement until handle returns true or
	// ctx ends. It returns ctx.Err() when the window closes without a match.
	Scan(ctx context.Context, handle func(Advertisement) bool) error

	// Send writes cmd to the device at address.
	Send(ctx context.Context, address string, cmd Command) error
}

// LocalConfig configures a LocalAdapter.
type LocalConfig struct {
	// ScanDuration bounds every scan window.
	ScanDuration time.Duration

	// Retries is the number of resend attempts after the first. These are
	// transport-level retries, separate from the Gateway's policy retries.
	Retries int

	// RetryDelay is the pause between resends.
	RetryDelay time.Duration
}

// LocalAdapter implements Adapter over a BLE Driver. It only works for
// identities with both an address and a model tag.
type LocalAdapter struct {
	driver Driver
	cfg    LocalConfig

	logger Logger
	mu     sync.RWMutex
}

// NewLocalAdapter creates a local BLE adapter.
func NewLocalAdapter(driver Driver, cfg LocalConfig) *LocalAdapter {
	if cfg.ScanDuration <= 0 {
		cfg.ScanDuration = defaultScanDuration
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultLocalRetryDelay
	}
	return &LocalAdapter{driver: driver, cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the adapter.
func (a *LocalAdapter) SetLogger(logger Logger) {
	a.mu.Lock()
	a.logger = logger
	a.mu.Unlock()
}

func (a *LocalAdapter) getLogger() Logger {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logger
}

// FetchState implements Adapter. It returns the serviceData of the first
// advertisement matching the device's address and model inside one scan
// window, or ErrTransportTimeout when the window closes.
func (a *LocalAdapter) FetchState(ctx context.Context, id device.Identity) (RawStatus, error) {
	adv, err := a.discover(ctx, id)
	if err != nil {
		return RawStatus{}, err
	}
	fields := adv.ServiceData
	if fields == nil {
		fields = map[string]any{}
	}
	return RawStatus{Source: NameLocal, Fields: fields, ReceivedAt: adv.ReceivedAt}, nil
}

// SendCommand implements Adapter: discover the device, then write with up to
// Retries resends.
func (a *LocalAdapter) SendCommand(ctx context.Context, id device.Identity, cmd Command) (Ack, error) {
	if _, err := a.discover(ctx, id); err != nil {
		return Ack{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.Retries+1; attempt++ {
		lastErr = a.driver.Send(ctx, id.Address, cmd)
		if lastErr == nil {
			return Ack{StatusCode: VendorOK, Attempts: attempt, Transport: NameLocal}, nil
		}
		if errors.Is(lastErr, ErrVendorRejected) {
			return Ack{}, lastErr
		}

		a.getLogger().Debug("local send failed",
			"device_id", id.ID,
			"command", cmd.Command,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt <= a.cfg.Retries {
			select {
			case <-ctx.Done():
				return Ack{}, fmt.Errorf("%w: %w", ErrTransportTimeout, ctx.Err())
			case <-time.After(a.cfg.RetryDelay):
			}
		}
	}

	return Ack{}, &AttemptsError{
		Attempts: a.cfg.Retries + 1,
		Err:      fmt.Errorf("%w: local send to %s: %w", ErrTransportTimeout, id.Address, lastErr),
	}
}

// discover scans one bounded window for the device.
func (a *LocalAdapter) discover(ctx context.Context, id device.Identity) (Advertisement, error) {
	if id.Address == "" || id.Model == "" {
		return Advertisement{}, fmt.Errorf("%w: %s", ErrLocalUnsupported, id.ID)
	}

	scanCtx, cancel := context.WithTimeout(ctx, a.cfg.ScanDuration)
	defer cancel()

	want := device.NormalizeAddress(id.Address)
	var found Advertisement
	matched := false

	err := a.driver.Scan(scanCtx, func(adv Advertisement) bool {
		if device.NormalizeAddress(adv.Address) != want || adv.Model != id.Model {
			return false
		}
		found = adv
		matched = true
		return true
	})
	if matched {
		if found.ReceivedAt.IsZero() {
			found.ReceivedAt = time.Now()
		}
		return found, nil
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return Advertisement{}, fmt.Errorf("%w: no advertisement from %s within %s", ErrTransportTimeout, id.Address, a.cfg.ScanDuration)
	}
	return Advertisement{}, fmt.Errorf("%w: scan: %w", ErrTransportTimeout, err)
}
