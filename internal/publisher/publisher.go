package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/metrics"
)

// Snapshot is one published capability state.
type Snapshot struct {
	Identity device.Identity  `json:"identity"`
	Services []device.Service `json:"services"`
	State    device.State     `json:"state"`
	Source   string           `json:"source"`
	At       time.Time        `json:"at"`
}

// Sink receives every drained snapshot after the registry write.
type Sink interface {
	Name() string
	Write(ctx context.Context, snap Snapshot) error
}

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// sinkTimeout bounds one sink write.
const sinkTimeout = 5 * time.Second

// Options configures a Publisher.
type Options struct {
	// Registry is the host service registry. Optional; without it only sinks
	// receive snapshots.
	Registry Registry
	Sinks    []Sink
	Logger   Logger
}

// Publisher is a non-blocking, last-write-wins capability sink.
//
// Publish stores the snapshot and wakes the worker; a snapshot that has not
// been drained yet is replaced by a newer one for the same device.
type Publisher struct {
	registry Registry
	sinks    []Sink
	logger   Logger

	mu      sync.Mutex
	latest  map[string]Snapshot
	order   []string
	handles map[ServiceHandle]struct{}
	pushMu  sync.Mutex

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a publisher. Call Start to begin draining.
func New(opts Options) *Publisher {
	p := &Publisher{
		registry: opts.Registry,
		sinks:    opts.Sinks,
		logger:   opts.Logger,
		latest:   make(map[string]Snapshot),
		handles:  make(map[ServiceHandle]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	return p
}

// AddSink registers an additional sink. Must be called before Start.
func (p *Publisher) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Publish implements synchronizer.Publisher. It never blocks.
func (p *Publisher) Publish(id device.Identity, services []device.Service, state device.State, source string) {
	snap := Snapshot{
		Identity: id,
		Services: services,
		State:    state.Clone(),
		Source:   source,
		At:       time.Now().UTC(),
	}

	p.mu.Lock()
	if _, queued := p.latest[id.ID]; queued {
		metrics.PublisherDropped.Inc()
	} else {
		p.order = append(p.order, id.ID)
	}
	p.latest[id.ID] = snap
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start launches the drain worker.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				p.Flush(context.Background())
				return
			case <-p.done:
				p.Flush(context.Background())
				return
			case <-p.notify:
				p.Flush(ctx)
			}
		}
	}()
}

// Stop drains what is queued and stops the worker.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// Pending returns the number of devices with an undrained snapshot.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Flush drains every queued snapshot synchronously.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.order) == 0 {
			p.mu.Unlock()
			return
		}
		id := p.order[0]
		p.order = p.order[1:]
		snap := p.latest[id]
		delete(p.latest, id)
		p.mu.Unlock()

		p.push(ctx, snap)
	}
}

// push writes one snapshot to the registry and every sink. Failures are
// logged and swallowed.
func (p *Publisher) push(ctx context.Context, snap Snapshot) {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()

	if p.registry != nil {
		for _, svc := range snap.Services {
			p.pushService(snap, svc)
		}
	}

	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.Write(sctx, snap)
		cancel()
		if err != nil {
			metrics.PublisherErrors.WithLabelValues(s.Name()).Inc()
			p.logger.Warn("sink write failed", "sink", s.Name(), "device_id", snap.Identity.ID, "error", err)
		}
	}
}

func (p *Publisher) pushService(snap Snapshot, svc device.Service) {
	values := serviceValues(svc, snap.State)
	if len(values) == 0 {
		return
	}

	h, err := p.registry.GetOrCreateService(snap.Identity.ID, svc.Kind)
	if err != nil {
		metrics.PublisherErrors.WithLabelValues("registry").Inc()
		p.logger.Warn("service create failed", "device_id", snap.Identity.ID, "service", svc.Kind, "error", err)
		return
	}
	p.mu.Lock()
	p.handles[h] = struct{}{}
	p.mu.Unlock()

	for _, v := range values {
		if err := p.registry.SetCharacteristic(h, v.Name, v.Value); err != nil {
			metrics.PublisherErrors.WithLabelValues("registry").Inc()
			p.logger.Warn("characteristic write failed",
				"device_id", snap.Identity.ID,
				"service", svc.Kind,
				"characteristic", v.Name,
				"error", err,
			)
		}
	}
}

// Retire drops any queued snapshot for the device and removes its services
// from the registry.
func (p *Publisher) Retire(id device.Identity) {
	p.mu.Lock()
	if _, queued := p.latest[id.ID]; queued {
		delete(p.latest, id.ID)
		for i, q := range p.order {
			if q == id.ID {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	var handles []ServiceHandle
	for h := range p.handles {
		if h.DeviceID == id.ID {
			handles = append(handles, h)
			delete(p.handles, h)
		}
	}
	p.mu.Unlock()

	if p.registry == nil {
		return
	}

	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	for _, h := range handles {
		if err := p.registry.RemoveService(h); err != nil {
			p.logger.Warn("service removal failed", "device_id", id.ID, "service", h.Kind, "error", err)
		}
	}
}
