package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// Default retry gateway settings.
const (
	defaultRetryDelay       = time.Second
	defaultMaxRetryDelay    = 30 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerTimeout   = time.Minute
)

// GatewayConfig configures retry and circuit-breaker policy.
type GatewayConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the fixed delay, or the initial delay when Exponential is set.
	RetryDelay time.Duration

	// Exponential doubles the delay after each retry, capped at 30s.
	Exponential bool

	// BreakerThreshold is the number of consecutive transient failures that
	// opens the breaker. Zero uses 5; negative disables the breaker.
	BreakerThreshold int

	// BreakerTimeout is how long the breaker stays open before a probe.
	BreakerTimeout time.Duration

	// OnRetry is called before each retry. Optional.
	OnRetry func(attempt int, err error)

	// OnBreakerChange is called on breaker state transitions. Optional.
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// Gateway wraps an Adapter with bounded retries for transient failures and a
// circuit breaker. Non-transient failures (rejections, unsupported) return
// after one attempt. Every vendor command sets an absolute target state, so
// resending is always safe.
type Gateway struct {
	next    Adapter
	cfg     GatewayConfig
	breaker *gobreaker.CircuitBreaker[any]

	logger Logger
	mu     sync.RWMutex
}

// NewGateway wraps next with the configured retry policy.
func NewGateway(next Adapter, cfg GatewayConfig) *Gateway {
	if cfg.Name == "" {
		cfg.Name = NameCloud
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	g := &Gateway{next: next, cfg: cfg, logger: noopLogger{}}

	if cfg.BreakerThreshold >= 0 {
		threshold := cfg.BreakerThreshold
		if threshold == 0 {
			threshold = defaultBreakerThreshold
		}
		timeout := cfg.BreakerTimeout
		if timeout <= 0 {
			timeout = defaultBreakerTimeout
		}

		g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) //nolint:gosec // threshold is small and positive
			},
			// Only transient failures count against the breaker; a rejected
			// command proves the cloud is answering.
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.getLogger().Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				if cfg.OnBreakerChange != nil {
					cfg.OnBreakerChange(name, from, to)
				}
			},
		})
	}

	return g
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.mu.Lock()
	g.logger = logger
	g.mu.Unlock()
}

func (g *Gateway) getLogger() Logger {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.logger
}

// BreakerState returns the current breaker state (closed when disabled).
func (g *Gateway) BreakerState() gobreaker.State {
	if g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

// FetchState implements Adapter.
func (g *Gateway) FetchState(ctx context.Context, id device.Identity) (RawStatus, error) {
	var status RawStatus
	_, err := g.retry(ctx, id, "fetch", func() error {
		var err error
		status, err = g.next.FetchState(ctx, id)
		return err
	})
	return status, err
}

// SendCommand implements Adapter. Ack.Attempts reports the attempts used.
func (g *Gateway) SendCommand(ctx context.Context, id device.Identity, cmd Command) (Ack, error) {
	var ack Ack
	attempts, err := g.retry(ctx, id, cmd.Command, func() error {
		var err error
		ack, err = g.next.SendCommand(ctx, id, cmd)
		return err
	})
	if err != nil {
		return Ack{}, &AttemptsError{Attempts: attempts, Err: err}
	}
	ack.Attempts = attempts
	return ack, nil
}

// retry runs op through the breaker with bounded backoff. It returns the
// number of attempts made.
func (g *Gateway) retry(ctx context.Context, id device.Identity, what string, op func() error) (int, error) {
	attempts := 0

	operation := func() error {
		attempts++
		err := g.call(op)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		g.getLogger().Debug("retrying vendor request",
			"device_id", id.ID,
			"operation", what,
			"attempt", attempts,
			"wait", wait.String(),
			"error", err,
		)
		if g.cfg.OnRetry != nil {
			g.cfg.OnRetry(attempts, err)
		}
	}

	err := backoff.RetryNotify(operation, g.policy(ctx), notify)
	return attempts, err
}

// call runs op through the breaker. An open breaker maps to ErrDeviceUnreachable.
func (g *Gateway) call(op func() error) error {
	if g.breaker == nil {
		return op()
	}
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s circuit open", ErrDeviceUnreachable, g.cfg.Name)
	}
	return err
}

func (g *Gateway) policy(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if g.cfg.Exponential {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = g.cfg.RetryDelay
		exp.MaxInterval = defaultMaxRetryDelay
		exp.MaxElapsedTime = 0
		exp.RandomizationFactor = 0
		b = exp
	} else {
		b = backoff.NewConstantBackOff(g.cfg.RetryDelay)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.MaxRetries)), ctx) //nolint:gosec // MaxRetries clamped to >= 0
}

// AttemptsError reports how many attempts a failed command used.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// Attempts returns the attempt count carried by err, or 1.
func Attempts(err error) int {
	var ae *AttemptsError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 1
}
