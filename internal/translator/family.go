package translator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// Family is the capability set of one kind of vendor device: which fields it
// has, how raw payloads decode into them and how writes encode into commands.
//
// Implementations are stateless and safe for concurrent use.
type Family interface {
	// Name returns the family tag used in configuration (e.g., "curtain").
	Name() string

	// DeviceTypes returns the vendor deviceType strings this family handles.
	DeviceTypes() []string

	// LocalModel returns the BLE advertisement model tag, or "" when the
	// family has no local transport.
	LocalModel() string

	// Fields returns the declared domain of every capability field.
	Fields() map[device.Field]device.Domain

	// Writable reports whether field accepts capability requests.
	Writable(field device.Field) bool

	// Services lists the registry services the family exposes.
	Services() []device.Service

	// Decode translates a raw payload into a state patch. Keys that are
	// missing produce no entry; keys with the wrong shape produce a
	// ParseError and no entry.
	Decode(raw transport.RawStatus) (device.State, []error)

	// Encode validates a requested value and returns the vendor command.
	// The same field and value always yield the same Command.
	Encode(field device.Field, value any) (transport.Command, error)

	// SafeState returns the values published while the device is offline.
	SafeState() device.State
}

// family is the table-driven Family implementation shared by every device kind.
type family struct {
	name        string
	deviceTypes []string
	localModel  string
	fields      map[device.Field]device.Domain
	writable    map[device.Field]bool
	services    []device.Service
	decode      func(d *decoder)
	encode      func(field device.Field, value any) transport.Command
	safe        device.State
}

func (f *family) Name() string          { return f.name }
func (f *family) DeviceTypes() []string { return append([]string(nil), f.deviceTypes...) }
func (f *family) LocalModel() string    { return f.localModel }

func (f *family) Fields() map[device.Field]device.Domain {
	out := make(map[device.Field]device.Domain, len(f.fields))
	for k, v := range f.fields {
		out[k] = v
	}
	return out
}

func (f *family) Writable(field device.Field) bool { return f.writable[field] }

func (f *family) Services() []device.Service {
	out := make([]device.Service, len(f.services))
	for i, s := range f.services {
		out[i] = device.Service{Kind: s.Kind, Fields: append([]device.Field(nil), s.Fields...)}
	}
	return out
}

func (f *family) Decode(raw transport.RawStatus) (device.State, []error) {
	d := newDecoder(raw.Fields, f.fields)
	if raw.Fields != nil {
		f.decode(d)
	}
	return d.result()
}

func (f *family) Encode(field device.Field, value any) (transport.Command, error) {
	dom, ok := f.fields[field]
	if !ok {
		return transport.Command{}, fmt.Errorf("%w: %s has no field %q", device.ErrUnknownField, f.name, field)
	}
	if !f.writable[field] {
		return transport.Command{}, fmt.Errorf("%w: %s.%s", device.ErrReadOnlyField, f.name, field)
	}
	v, err := dom.Validate(value)
	if err != nil {
		return transport.Command{}, fmt.Errorf("%s.%s: %w", f.name, field, err)
	}
	return f.encode(field, v), nil
}

func (f *family) SafeState() device.State { return f.safe.Clone() }

var registry, byDeviceType = index(
	botFamily,
	plugFamily,
	curtainFamily,
	contactFamily,
	motionFamily,
	meterFamily,
	vacuumFamily,
	fanFamily,
	lightFamily,
)

func index(families ...*family) (map[string]Family, map[string]Family) {
	byName := make(map[string]Family, len(families))
	byType := make(map[string]Family)
	for _, f := range families {
		byName[f.name] = f
		for _, t := range f.deviceTypes {
			byType[strings.ToLower(t)] = f
		}
	}
	return byName, byType
}

// Lookup returns the family registered under a config tag.
func Lookup(name string) (Family, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
	}
	return f, nil
}

// LookupDeviceType returns the family for a vendor deviceType string, as
// carried by cloud device lists and webhook payloads.
func LookupDeviceType(deviceType string) (Family, error) {
	f, ok := byDeviceType[strings.ToLower(strings.TrimSpace(deviceType))]
	if !ok {
		return nil, fmt.Errorf("%w: device type %q", ErrUnknownFamily, deviceType)
	}
	return f, nil
}

// Names returns every registered family tag in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func command(name, parameter string) transport.Command {
	return transport.Command{
		Command:     name,
		Parameter:   parameter,
		CommandType: transport.CommandTypeCommand,
	}
}

func powerCommand(on bool) transport.Command {
	if on {
		return command("turnOn", transport.DefaultParameter)
	}
	return command("turnOff", transport.DefaultParameter)
}

var batteryService = device.Service{
	Kind:   "battery",
	Fields: []device.Field{device.FieldBatteryLevel, device.FieldLowBattery},
}

// batteryFields adds the battery pair to a field table.
func batteryFields(fields map[device.Field]device.Domain) map[device.Field]device.Domain {
	fields[device.FieldBatteryLevel] = device.IntRange(0, 100)
	fields[device.FieldLowBattery] = device.Bool()
	return fields
}
