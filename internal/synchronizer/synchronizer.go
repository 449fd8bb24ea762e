package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/translator"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultRefreshInterval  = 5 * time.Minute
	DefaultDebounceDelay    = 100 * time.Millisecond
	DefaultConfirmDelay     = 15 * time.Second
	DefaultOfflineThreshold = 3
	DefaultRequestTimeout   = time.Minute
)

// Synchronizer errors.
var (
	// ErrStopped is returned by RequestCapability after Stop.
	ErrStopped = errors.New("synchronizer: stopped")

	// ErrNoTransport is returned when the device's transport mode needs an
	// adapter that was not supplied.
	ErrNoTransport = errors.New("synchronizer: no adapter for transport mode")
)

// Options configures a Synchronizer.
type Options struct {
	Identity device.Identity
	Family   translator.Family

	// Cloud is the cloud adapter, normally wrapped in a transport.Gateway.
	Cloud transport.Adapter

	// Local is the BLE adapter.
	Local transport.Adapter

	Publisher Publisher
	Recorder  Recorder
	APIError  APIErrorFunc
	Logger    Logger

	RefreshInterval time.Duration
	DebounceDelay   time.Duration
	ConfirmDelay    time.Duration

	// RequestTimeout bounds one refresh or one write cycle, retries included.
	RequestTimeout time.Duration

	// OfflineThreshold is the number of consecutive failed refreshes after
	// which the device is treated as unreachable.
	OfflineThreshold int

	// Offline marks the device offline from configuration: no fetches, safe
	// state published.
	Offline bool
}

// Synchronizer owns one device's capability state. It schedules periodic
// refresh, debounces writes into a single PendingWrite, chooses a transport
// and reconciles the results.
//
// State machine:
//
//	Idle -> RefreshInFlight -> Idle
//	Idle -> WriteInFlight   -> Idle
//
// A refresh tick that finds the device busy or with a pending write is
// skipped. A debounce expiry that finds a refresh in flight waits another
// quiet period.
//
// All public methods are thread-safe.
type Synchronizer struct {
	id        device.Identity
	family    translator.Family
	services  []device.Service
	cloud     transport.Adapter
	local     transport.Adapter
	publisher Publisher
	recorder  Recorder
	apiError  APIErrorFunc
	logger    Logger

	refreshInterval  time.Duration
	debounceDelay    time.Duration
	confirmDelay     time.Duration
	requestTimeout   time.Duration
	offlineThreshold int

	mu sync.Mutex

	// state is what has been published; confirmed holds the last values the
	// device itself reported or acknowledged, used for rollback.
	state     device.State
	confirmed device.State
	pending   *PendingWrite
	inflight  device.State
	syncState SyncState

	failures      int
	unreachable   bool
	forcedOffline bool

	debounce *time.Timer
	confirm  *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a synchronizer for one device.
//
// Parameters:
//   - opts: Identity, family, adapters, collaborators and timings
//
// Returns:
//   - *Synchronizer: Ready to use; call Start to begin periodic refresh
//   - error: If Family is nil or the transport mode has no matching adapter
func New(opts Options) (*Synchronizer, error) {
	if opts.Family == nil {
		return nil, fmt.Errorf("synchronizer: %s has no family", opts.Identity.ID)
	}
	mode := opts.Identity.Transport
	if mode == "" {
		mode = device.TransportCloud
	}
	if mode.UsesLocal() && opts.Local == nil && !mode.UsesCloud() {
		return nil, fmt.Errorf("%w: %s needs a local adapter", ErrNoTransport, mode)
	}
	if mode.UsesCloud() && opts.Cloud == nil && !mode.UsesLocal() {
		return nil, fmt.Errorf("%w: %s needs a cloud adapter", ErrNoTransport, mode)
	}
	opts.Identity.Transport = mode

	s := &Synchronizer{
		id:               opts.Identity,
		family:           opts.Family,
		services:         opts.Family.Services(),
		cloud:            opts.Cloud,
		local:            opts.Local,
		publisher:        opts.Publisher,
		recorder:         opts.Recorder,
		apiError:         opts.APIError,
		logger:           opts.Logger,
		refreshInterval:  orDefault(opts.RefreshInterval, DefaultRefreshInterval),
		debounceDelay:    orDefault(opts.DebounceDelay, DefaultDebounceDelay),
		confirmDelay:     orDefault(opts.ConfirmDelay, DefaultConfirmDelay),
		requestTimeout:   orDefault(opts.RequestTimeout, DefaultRequestTimeout),
		offlineThreshold: opts.OfflineThreshold,
		state:            device.State{},
		confirmed:        device.State{},
		forcedOffline:    opts.Offline,
	}
	if s.offlineThreshold <= 0 {
		s.offlineThreshold = DefaultOfflineThreshold
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Identity returns the device identity.
func (s *Synchronizer) Identity() device.Identity { return s.id }

// Family returns the device family.
func (s *Synchronizer) Family() translator.Family { return s.family }

// Services returns the registry services the device exposes.
func (s *Synchronizer) Services() []device.Service { return s.services }

// Snapshot returns a copy of the current capability state.
func (s *Synchronizer) Snapshot() device.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SyncState returns the operation currently in flight.
func (s *Synchronizer) SyncState() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncState
}

// Pending returns a copy of the pending write, or nil.
func (s *Synchronizer) Pending() *PendingWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	return &PendingWrite{Delta: s.pending.Delta.Clone(), RequestedAt: s.pending.RequestedAt}
}

// Offline reports whether the safe-state override is active.
func (s *Synchronizer) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forcedOffline || s.unreachable
}

// ForcedOffline reports whether the device is held offline by configuration
// or MarkOffline, as opposed to failing refreshes.
func (s *Synchronizer) ForcedOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forcedOffline
}

// Start begins periodic refresh: one immediate refresh, then one every
// RefreshInterval until ctx is cancelled or Stop is called.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.refreshInterval)
		defer ticker.Stop()

		s.Refresh(s.ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(s.ctx)
			}
		}
	}()
}

// Stop cancels timers and waits for in-flight work. A pending write that has
// not been dispatched is dropped. Safe to call more than once.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.debounce != nil {
			s.debounce.Stop()
		}
		if s.confirm != nil {
			s.confirm.Stop()
		}
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
	})
}

// enter registers a timer callback with the wait group unless stopped.
func (s *Synchronizer) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// RequestCapability handles a user write. The value is validated against the
// field's domain and applied optimistically; the network write happens after
// the debounce delay. Only validation errors are returned, all wrapping
// device.ErrInvalidValue.
func (s *Synchronizer) RequestCapability(field device.Field, value any) error {
	v, err := s.validate(field, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}

	now := time.Now()
	s.state[field] = v
	if s.pending == nil {
		s.pending = &PendingWrite{Delta: device.State{}}
	}
	s.pending.Delta[field] = v
	s.pending.RequestedAt = now

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.debounceDelay, s.onDebounce)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.logger.Debug("capability requested", "field", string(field), "value", v)
	s.publish(snapshot, device.StateHistorySourceCommand)
	return nil
}

func (s *Synchronizer) validate(field device.Field, value any) (any, error) {
	dom, ok := s.family.Fields()[field]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", device.ErrInvalidValue, device.ErrUnknownField, field)
	}
	if !s.family.Writable(field) {
		return nil, fmt.Errorf("%w: %w: %s", device.ErrInvalidValue, device.ErrReadOnlyField, field)
	}
	return dom.Validate(value)
}

func (s *Synchronizer) onDebounce() {
	if !s.enter() {
		return
	}
	defer s.wg.Done()
	s.flush()
}

// flush dispatches the pending write.
func (s *Synchronizer) flush() {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return
	}
	if s.syncState != Idle {
		// Wait for the in-flight operation; the write stays coalesced.
		s.debounce = time.AfterFunc(s.debounceDelay, s.onDebounce)
		s.mu.Unlock()
		return
	}
	pw := s.pending
	s.pending = nil
	s.inflight = pw.Delta
	s.syncState = WriteInFlight
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
	sent, failed, err := s.dispatch(ctx, pw.Delta)
	cancel()

	s.mu.Lock()
	s.syncState = Idle
	s.inflight = nil

	for _, f := range sent {
		s.confirmed[f] = pw.Delta[f]
	}

	source := device.StateHistorySourceCommand
	kind := transport.Classify(err)
	switch {
	case err == nil:
		s.clearFaultLocked()
		s.scheduleConfirmLocked()

	case errors.Is(kind, transport.ErrVendorRejected):
		// Roll back to the last confirmed value, unless a newer request for
		// the same field is already waiting.
		for _, f := range failed {
			if s.pending != nil && s.pending.Delta.Has(f) {
				continue
			}
			if v, ok := s.confirmed[f]; ok {
				s.state[f] = v
			} else {
				delete(s.state, f)
			}
		}
		s.state[device.FieldFault] = true
		source = device.StateHistorySourceRollback

	default:
		// The device may have applied the command; keep the optimistic
		// value and let the confirmation refresh settle it.
		s.state[device.FieldFault] = true
		s.scheduleConfirmLocked()
	}
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.publish(snapshot, source)
	if err != nil {
		s.reportError(err)
	}
}

// dispatch sends one command per delta field, in field order, and stops at
// the first failure.
func (s *Synchronizer) dispatch(ctx context.Context, delta device.State) (sent, failed []device.Field, err error) {
	fields := delta.Fields()
	for i, f := range fields {
		cmd, encErr := s.family.Encode(f, delta[f])
		if encErr != nil {
			return fields[:i], fields[i:], fmt.Errorf("%w: %w", transport.ErrVendorRejected, encErr)
		}

		start := time.Now()
		ack, via, sendErr := s.send(ctx, cmd)

		result := CommandResult{
			DeviceID:  s.id.ID,
			Command:   cmd,
			Transport: via,
			Outcome:   outcome(sendErr),
			Attempts:  ack.Attempts,
			Err:       sendErr,
			Duration:  time.Since(start),
		}
		if sendErr != nil {
			result.Attempts = transport.Attempts(sendErr)
		}
		s.recorder.CommandCompleted(result)

		if sendErr != nil {
			s.logger.Warn("command failed",
				"command", cmd.Command,
				"parameter", cmd.Parameter,
				"transport", via,
				"attempts", result.Attempts,
				"error", sendErr,
			)
			return fields[:i], fields[i:], sendErr
		}
		s.logger.Debug("command acknowledged",
			"command", cmd.Command,
			"parameter", cmd.Parameter,
			"transport", via,
			"attempts", ack.Attempts,
		)
	}
	return fields, nil, nil
}

// send picks the transport for one command. With local-with-cloud-fallback a
// failed local send is retried once over the cloud.
func (s *Synchronizer) send(ctx context.Context, cmd transport.Command) (transport.Ack, string, error) {
	switch s.id.Transport {
	case device.TransportLocal:
		ack, err := s.local.SendCommand(ctx, s.id, cmd)
		return ack, transport.NameLocal, err

	case device.TransportLocalFallback:
		if s.local != nil {
			ack, err := s.local.SendCommand(ctx, s.id, cmd)
			if err == nil || s.cloud == nil || ctx.Err() != nil {
				return ack, transport.NameLocal, err
			}
			s.logger.Debug("local send failed, falling back to cloud", "command", cmd.Command, "error", err)
		}
		if s.cloud == nil {
			return transport.Ack{}, transport.NameLocal, ErrNoTransport
		}
		ack, err := s.cloud.SendCommand(ctx, s.id, cmd)
		return ack, transport.NameCloud, err

	default:
		ack, err := s.cloud.SendCommand(ctx, s.id, cmd)
		return ack, transport.NameCloud, err
	}
}

// fetch picks the transport for one refresh. With local-with-cloud-fallback
// a failed or unsupported local scan falls back to the cloud in the same
// cycle, so one refresh produces at most one state update.
func (s *Synchronizer) fetch(ctx context.Context) (transport.RawStatus, string, error) {
	switch s.id.Transport {
	case device.TransportLocal:
		raw, err := s.local.FetchState(ctx, s.id)
		return raw, transport.NameLocal, err

	case device.TransportLocalFallback:
		if s.local != nil {
			raw, err := s.local.FetchState(ctx, s.id)
			if err == nil || s.cloud == nil || ctx.Err() != nil {
				return raw, transport.NameLocal, err
			}
			s.logger.Debug("local refresh failed, falling back to cloud", "error", err)
		}
		if s.cloud == nil {
			return transport.RawStatus{}, transport.NameLocal, ErrNoTransport
		}
		raw, err := s.cloud.FetchState(ctx, s.id)
		return raw, transport.NameCloud, err

	default:
		raw, err := s.cloud.FetchState(ctx, s.id)
		return raw, transport.NameCloud, err
	}
}

// Refresh fetches and reconciles device state. It is skipped, returning
// false, while another operation is in flight, while a write is pending, or
// while the device is configured offline.
func (s *Synchronizer) Refresh(ctx context.Context) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if s.syncState != Idle || s.pending != nil {
		state := s.syncState
		s.mu.Unlock()
		s.recorder.RefreshSkipped(s.id.ID, state)
		return false
	}
	if s.forcedOffline {
		changed := s.applySafeStateLocked()
		snapshot := s.state.Clone()
		s.mu.Unlock()
		if changed {
			s.publish(snapshot, device.StateHistorySourceOffline)
		}
		return false
	}
	s.syncState = RefreshInFlight
	s.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	start := time.Now()
	raw, via, err := s.fetch(fetchCtx)
	cancel()

	var patch device.State
	var parseErrs []error
	if err == nil {
		patch, parseErrs = s.family.Decode(raw)
	}
	s.recorder.RefreshCompleted(RefreshResult{
		DeviceID:    s.id.ID,
		Transport:   via,
		Err:         err,
		ParseErrors: len(parseErrs),
		Duration:    time.Since(start),
	})
	for _, pe := range parseErrs {
		s.logger.Warn("skipping unparsable status field", "transport", via, "error", pe)
	}

	s.mu.Lock()
	s.syncState = Idle

	if err != nil {
		s.failures++
		wentOffline := false
		if s.failures >= s.offlineThreshold && !s.unreachable {
			s.unreachable = true
			s.applySafeStateLocked()
			wentOffline = true
		}
		s.state[device.FieldFault] = true
		snapshot := s.state.Clone()
		failures := s.failures
		s.mu.Unlock()

		s.logger.Warn("refresh failed", "transport", via, "consecutive_failures", failures, "error", err)
		if wentOffline {
			s.recorder.OfflineChanged(s.id.ID, true)
			s.publish(snapshot, device.StateHistorySourceOffline)
			s.reportError(fmt.Errorf("%w: %d consecutive refresh failures: %w", transport.ErrDeviceUnreachable, failures, err))
		} else {
			s.publish(snapshot, device.StateHistorySourceRefresh)
		}
		return true
	}

	cameBack := s.unreachable
	s.failures = 0
	s.unreachable = false
	s.applyPatchLocked(patch)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if cameBack {
		s.logger.Info("device reachable again", "transport", via)
		s.recorder.OfflineChanged(s.id.ID, false)
	}
	s.publish(snapshot, device.StateHistorySourceRefresh)
	return true
}

// HandleWebhook applies a pushed status. It has the same effect as a
// successful refresh but does not wait for the Idle guard. Ignored while the
// device is configured offline.
func (s *Synchronizer) HandleWebhook(raw transport.RawStatus) {
	patch, parseErrs := s.family.Decode(raw)
	for _, pe := range parseErrs {
		s.logger.Warn("skipping unparsable webhook field", "error", pe)
	}

	s.mu.Lock()
	if s.stopped || s.forcedOffline {
		s.mu.Unlock()
		return
	}
	cameBack := s.unreachable
	s.failures = 0
	s.unreachable = false
	s.applyPatchLocked(patch)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if cameBack {
		s.recorder.OfflineChanged(s.id.ID, false)
	}
	s.publish(snapshot, device.StateHistorySourceWebhook)
}

// MarkOffline forces the safe state. When the device is idle the override is
// published immediately; otherwise the in-flight operation completes and
// the override lands on the next cycle.
func (s *Synchronizer) MarkOffline() {
	s.mu.Lock()
	wasOffline := s.forcedOffline || s.unreachable
	s.forcedOffline = true
	var snapshot device.State
	if s.syncState == Idle {
		s.applySafeStateLocked()
		snapshot = s.state.Clone()
	}
	s.mu.Unlock()

	if !wasOffline {
		s.recorder.OfflineChanged(s.id.ID, true)
	}
	if snapshot != nil {
		s.publish(snapshot, device.StateHistorySourceOffline)
	}
}

// MarkOnline clears a forced offline override and triggers a refresh.
func (s *Synchronizer) MarkOnline() {
	s.mu.Lock()
	was := s.forcedOffline
	s.forcedOffline = false
	s.failures = 0
	s.unreachable = false
	s.mu.Unlock()

	if !was {
		return
	}
	s.recorder.OfflineChanged(s.id.ID, false)
	if s.enter() {
		go func() {
			defer s.wg.Done()
			s.Refresh(s.ctx)
		}()
	}
}

// applyPatchLocked merges decoded fields into state and the confirmed
// baseline. Fields with a pending or in-flight write keep their optimistic
// value.
func (s *Synchronizer) applyPatchLocked(patch device.State) {
	for f, v := range patch {
		s.confirmed[f] = v
		if s.writeOutstandingLocked(f) {
			continue
		}
		s.state[f] = v
	}
	s.clearFaultLocked()
}

func (s *Synchronizer) writeOutstandingLocked(f device.Field) bool {
	if s.inflight.Has(f) {
		return true
	}
	return s.pending != nil && s.pending.Delta.Has(f)
}

// applySafeStateLocked overlays the family's safe values and raises fault.
// It reports whether anything changed.
func (s *Synchronizer) applySafeStateLocked() bool {
	changed := s.state[device.FieldFault] != true
	for f, v := range s.family.SafeState() {
		if s.state[f] != v {
			changed = true
		}
		s.state[f] = v
	}
	s.state[device.FieldFault] = true
	return changed
}

func (s *Synchronizer) clearFaultLocked() {
	if s.state.Has(device.FieldFault) {
		s.state[device.FieldFault] = false
	}
}

// scheduleConfirmLocked arms the one-shot confirmation refresh.
func (s *Synchronizer) scheduleConfirmLocked() {
	if s.confirm != nil {
		s.confirm.Stop()
	}
	s.confirm = time.AfterFunc(s.confirmDelay, func() {
		if !s.enter() {
			return
		}
		defer s.wg.Done()
		s.Refresh(s.ctx)
	})
}

func (s *Synchronizer) publish(state device.State, source string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(s.id, s.services, state, source)
}

func (s *Synchronizer) reportError(err error) {
	if s.apiError != nil {
		s.apiError(s.id, err)
		return
	}
	s.logger.Error("device error", "error", err)
}

// outcome maps a send error to a command log outcome.
func outcome(err error) string {
	switch transport.Classify(err) {
	case nil:
		return device.OutcomeAcked
	case transport.ErrVendorRejected:
		return device.OutcomeRejected
	case transport.ErrTransportTimeout, transport.ErrBusy:
		return device.OutcomeTimeout
	}
	return device.OutcomeUnreachable
}
