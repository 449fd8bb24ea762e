package device

import (
	"maps"
	"sort"
	"strings"
)

// TransportMode selects which transport a device's synchronizer uses.
type TransportMode string

// Transport modes. The string values match the config file.
const (
	TransportCloud         TransportMode = "cloud-only"
	TransportLocal         TransportMode = "local-only"
	TransportLocalFallback TransportMode = "local-with-cloud-fallback"
)

// Valid reports whether m is a known transport mode.
func (m TransportMode) Valid() bool {
	switch m {
	case TransportCloud, TransportLocal, TransportLocalFallback:
		return true
	}
	return false
}

// UsesLocal reports whether the local BLE transport is tried first.
func (m TransportMode) UsesLocal() bool {
	return m == TransportLocal || m == TransportLocalFallback
}

// UsesCloud reports whether the cloud transport may be used.
func (m TransportMode) UsesCloud() bool {
	return m == TransportCloud || m == TransportLocalFallback
}

// Identity is the immutable description of one vendor device.
//
// It is built once from configuration and passed by value; nothing mutates
// it after the bridge starts.
type Identity struct {
	// ID is the vendor cloud device ID (typically the MAC without separators).
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Family is the translator family tag (e.g., "curtain", "meter").
	Family string `json:"family"`

	// Model is the BLE advertisement model tag. Empty disables local scanning.
	Model string `json:"model,omitempty"`

	// Address is the BLE MAC address used by the local transport.
	Address string `json:"address,omitempty"`

	// Transport is the configured transport policy.
	Transport TransportMode `json:"transport"`
}

// DisplayName returns Name, or ID when no name is configured.
func (id Identity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return id.ID
}

// Matches reports whether key identifies this device, either as the vendor
// ID or as the BLE address. Separators and case are ignored.
func (id Identity) Matches(key string) bool {
	k := NormalizeAddress(key)
	if k == "" {
		return false
	}
	return k == NormalizeAddress(id.ID) || (id.Address != "" && k == NormalizeAddress(id.Address))
}

// NormalizeAddress strips ':' and '-' separators and upper-cases a MAC or ID.
func NormalizeAddress(s string) string {
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ToUpper(strings.TrimSpace(s))
}

// Field names a capability field.
type Field string

// Capability fields known to the bridge.
const (
	FieldPower        Field = "power"
	FieldPosition     Field = "position"
	FieldMoving       Field = "moving"
	FieldBrightness   Field = "brightness"
	FieldBatteryLevel Field = "batteryLevel"
	FieldLowBattery   Field = "lowBattery"
	FieldContact      Field = "contact"
	FieldMotion       Field = "motion"
	FieldTemperature  Field = "temperature"
	FieldHumidity     Field = "humidity"
	FieldSuctionLevel Field = "suctionLevel"
	FieldFanSpeed     Field = "fanSpeed"

	// FieldFault is set while an error is unresolved for the device.
	FieldFault Field = "fault"
)

// Contact sensor values.
const (
	ContactDetected    = "detected"
	ContactNotDetected = "not_detected"
)

// State is a capability snapshot. A missing field means "unknown", which is
// different from a zero value and is never published.
type State map[Field]any

// Clone returns an independent copy of s. Values are scalars, so a shallow
// map copy is enough.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Merge overwrites s with every field present in patch.
func (s State) Merge(patch State) {
	for k, v := range patch {
		s[k] = v
	}
}

// Has reports whether f is known.
func (s State) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

// Fields returns the known field names in sorted order.
func (s State) Fields() []Field {
	out := make([]Field, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Map returns the snapshot with plain string keys, for JSON and telemetry.
func (s State) Map() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}

// Service declares one registry service a device family exposes and the
// fields it carries.
type Service struct {
	// Kind is the registry service type (e.g., "switch", "window_covering").
	Kind string `json:"kind"`

	// Fields lists the capability fields projected onto this service.
	Fields []Field `json:"fields"`
}
