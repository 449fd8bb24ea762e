package device

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// Registry holds the configured device identities.
//
// It is populated once at startup and read concurrently by the command
// subscriber, the webhook ingress and the HTTP API. Lookups accept either the
// vendor ID or the BLE address, with or without separators.
//
// All public methods are thread-safe.
type Registry struct {
	byID   map[string]Identity
	byAddr map[string]string // normalised address or ID -> ID
	mu     sync.RWMutex
	logger Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]Identity),
		byAddr: make(map[string]string),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Register adds an identity.
//
// Returns ErrInvalidIdentity when ID, Family or Transport are unusable, and
// ErrDuplicateDevice when the ID or address is already taken.
func (r *Registry) Register(id Identity) error {
	if id.ID == "" || id.Family == "" {
		return fmt.Errorf("%w: id and family are required", ErrInvalidIdentity)
	}
	if !id.Transport.Valid() {
		return fmt.Errorf("%w: transport %q", ErrInvalidIdentity, id.Transport)
	}
	if id.Transport.UsesLocal() && id.Address == "" {
		return fmt.Errorf("%w: %s transport needs an address", ErrInvalidIdentity, id.Transport)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := []string{NormalizeAddress(id.ID)}
	if id.Address != "" {
		keys = append(keys, NormalizeAddress(id.Address))
	}
	for _, k := range keys {
		if owner, taken := r.byAddr[k]; taken && owner != id.ID {
			return fmt.Errorf("%w: %s (held by %s)", ErrDuplicateDevice, k, owner)
		}
	}
	if _, exists := r.byID[id.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, id.ID)
	}

	r.byID[id.ID] = id
	for _, k := range keys {
		r.byAddr[k] = id.ID
	}

	r.logger.Debug("device registered", "device_id", id.ID, "family", id.Family, "transport", id.Transport)
	return nil
}

// Unregister removes an identity and its address aliases.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.byID, id)
	for k, owner := range r.byAddr {
		if owner == id {
			delete(r.byAddr, k)
		}
	}
	r.logger.Debug("device unregistered", "device_id", id)
	return nil
}

// Get returns the identity registered under the exact ID.
func (r *Registry) Get(id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.byID[id]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return ident, nil
}

// Lookup resolves a vendor ID or BLE address (any separator, any case).
func (r *Registry) Lookup(key string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ident, ok := r.byID[key]; ok {
		return ident, nil
	}
	if id, ok := r.byAddr[NormalizeAddress(key)]; ok {
		return r.byID[id], nil
	}
	return Identity{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
}

// List returns all identities sorted by ID.
func (r *Registry) List() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Identity, 0, len(r.byID))
	for _, ident := range r.byID {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Stats summarises the registry for health and metrics reporting.
type Stats struct {
	Total       int                   `json:"total"`
	ByFamily    map[string]int        `json:"by_family"`
	ByTransport map[TransportMode]int `json:"by_transport"`
}

// GetStats returns device counts by family and transport.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:       len(r.byID),
		ByFamily:    make(map[string]int),
		ByTransport: make(map[TransportMode]int),
	}
	for _, ident := range r.byID {
		stats.ByFamily[ident.Family]++
		stats.ByTransport[ident.Transport]++
	}
	return stats
}
