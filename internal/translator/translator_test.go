package translator

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// statusFor returns the cloud status body a device reports after applying cmd.
func statusFor(t *testing.T, cmd transport.Command) map[string]any {
	t.Helper()

	arg := func() float64 {
		p := cmd.Parameter
		if i := strings.LastIndex(p, ","); i >= 0 {
			p = p[i+1:]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			t.Fatalf("command %+v: non-numeric parameter", cmd)
		}
		return float64(n)
	}

	switch cmd.Command {
	case "turnOn":
		return map[string]any{"power": "on"}
	case "turnOff":
		return map[string]any{"power": "off"}
	case "setPosition":
		return map[string]any{"slidePosition": arg()}
	case "PowLevel":
		return map[string]any{"suctionLevel": arg()}
	case "start":
		return map[string]any{"workingStatus": "Clearing"}
	case "dock":
		return map[string]any{"workingStatus": "GotoChargeBase"}
	case "setWindSpeed":
		return map[string]any{"fanSpeed": arg()}
	case "setBrightness":
		return map[string]any{"brightness": arg()}
	}
	t.Fatalf("no status mapping for command %+v", cmd)
	return nil
}

// samples returns representative in-domain values.
func samples(d device.Domain) []any {
	switch d.Kind {
	case device.KindBool:
		return []any{true, false}
	case device.KindInt:
		lo, hi := int(d.Min), int(d.Max)
		return []any{lo, (lo + hi) / 2, hi}
	case device.KindFloat:
		return []any{d.Min, (d.Min + d.Max) / 2, d.Max}
	case device.KindEnum:
		out := make([]any, len(d.Values))
		for i, v := range d.Values {
			out[i] = v
		}
		return out
	}
	return nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, name := range Names() {
		fam, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q) error = %v", name, err)
		}
		for field, dom := range fam.Fields() {
			if !fam.Writable(field) {
				continue
			}
			for _, value := range samples(dom) {
				t.Run(name+"/"+string(field)+"/"+strconv.Quote(toString(value)), func(t *testing.T) {
					cmd, err := fam.Encode(field, value)
					if err != nil {
						t.Fatalf("Encode() error = %v", err)
					}
					if cmd.CommandType != transport.CommandTypeCommand {
						t.Errorf("CommandType = %q", cmd.CommandType)
					}

					patch, errs := fam.Decode(transport.RawStatus{Source: transport.NameCloud, Fields: statusFor(t, cmd)})
					if len(errs) != 0 {
						t.Fatalf("Decode() errors = %v", errs)
					}
					if got := patch[field]; got != value {
						t.Errorf("round trip %s: got %v (%T), want %v (%T)", field, got, got, value, value)
					}
				})
			}
		}
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	}
	return "?"
}

func TestEncodeDeterministic(t *testing.T) {
	fam, _ := Lookup("curtain")
	first, err := fam.Encode(device.FieldPosition, 35)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := fam.Encode(device.FieldPosition, float64(35))
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if again != first {
			t.Fatalf("Encode() = %+v, want %+v", again, first)
		}
	}
	want := transport.Command{Command: "setPosition", Parameter: "0,ff,65", CommandType: "command"}
	if first != want {
		t.Errorf("Encode(position, 35) = %+v, want %+v", first, want)
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		family string
		field  device.Field
		value  any
		want   error
	}{
		{"curtain", device.FieldPosition, 101, device.ErrInvalidValue},
		{"curtain", device.FieldPosition, -1, device.ErrInvalidValue},
		{"curtain", device.FieldPosition, "half", device.ErrInvalidValue},
		{"curtain", device.FieldMoving, true, device.ErrReadOnlyField},
		{"curtain", device.FieldPower, true, device.ErrUnknownField},
		{"bot", device.FieldPower, "on", device.ErrInvalidValue},
		{"light", device.FieldBrightness, 0, device.ErrInvalidValue},
		{"vacuum", device.FieldSuctionLevel, 4, device.ErrInvalidValue},
		{"meter", device.FieldTemperature, 20.0, device.ErrReadOnlyField},
		{"contact", device.FieldContact, device.ContactDetected, device.ErrReadOnlyField},
	}
	for _, tt := range tests {
		t.Run(tt.family+"/"+string(tt.field), func(t *testing.T) {
			fam, err := Lookup(tt.family)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if _, err := fam.Encode(tt.field, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("Encode(%v) error = %v, want %v", tt.value, err, tt.want)
			}
		})
	}
}

func TestBatteryThreshold(t *testing.T) {
	tests := []struct {
		battery any
		low     bool
	}{
		{float64(7), true},
		{float64(9), true},
		{float64(10), false},
		{float64(11), false},
		{0, true},
		{"100", false},
	}
	fam, _ := Lookup("meter")
	for _, tt := range tests {
		patch, errs := fam.Decode(transport.RawStatus{Fields: map[string]any{"battery": tt.battery}})
		if len(errs) != 0 {
			t.Fatalf("battery %v: errors = %v", tt.battery, errs)
		}
		if patch[device.FieldLowBattery] != tt.low {
			t.Errorf("battery %v: lowBattery = %v, want %v", tt.battery, patch[device.FieldLowBattery], tt.low)
		}
	}
	if LowBatteryThreshold != 10 {
		t.Errorf("LowBatteryThreshold = %d, want 10", LowBatteryThreshold)
	}
}

func TestDecodeMissingFieldsProduceNoEntry(t *testing.T) {
	fam, _ := Lookup("meter")
	patch, errs := fam.Decode(transport.RawStatus{Fields: map[string]any{"temperature": 21.5}})
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
	if patch.Has(device.FieldBatteryLevel) || patch.Has(device.FieldLowBattery) || patch.Has(device.FieldHumidity) {
		t.Errorf("patch = %v, want only temperature", patch)
	}
	if patch[device.FieldTemperature] != 21.5 {
		t.Errorf("temperature = %v", patch[device.FieldTemperature])
	}
}

func TestDecodeIsTotal(t *testing.T) {
	garbage := []map[string]any{
		nil,
		{},
		{"power": 42, "battery": "lots", "slidePosition": true, "openState": 3},
		{"temperature": "warm", "humidity": 250, "workingStatus": []any{1}},
		{"brightness": map[string]any{"x": 1}, "fanSpeed": -5, "moveDetected": "maybe"},
		{"battery": nil, "power": nil},
	}
	for _, name := range Names() {
		fam, _ := Lookup(name)
		for _, fields := range garbage {
			patch, errs := fam.Decode(transport.RawStatus{Fields: fields})
			for f, v := range patch {
				dom, ok := fam.Fields()[f]
				if !ok || !dom.Contains(v) {
					t.Errorf("%s: patch[%s] = %v outside declared domain", name, f, v)
				}
			}
			for _, err := range errs {
				if !errors.Is(err, ErrParse) {
					t.Errorf("%s: error %v is not a ParseError", name, err)
				}
			}
		}
	}
}

func TestDecodeShapes(t *testing.T) {
	tests := []struct {
		name   string
		family string
		fields map[string]any
		want   device.State
	}{
		{
			name:   "curtain cloud",
			family: "curtain",
			fields: map[string]any{"slidePosition": float64(0), "moving": false, "battery": float64(80), "calibrate": true},
			want:   device.State{device.FieldPosition: 100, device.FieldMoving: false, device.FieldBatteryLevel: 80, device.FieldLowBattery: false},
		},
		{
			name:   "curtain local",
			family: "curtain",
			fields: map[string]any{"position": float64(100), "inMotion": true},
			want:   device.State{device.FieldPosition: 0, device.FieldMoving: true},
		},
		{
			name:   "contact open",
			family: "contact",
			fields: map[string]any{"openState": "open", "moveDetected": true},
			want:   device.State{device.FieldContact: device.ContactNotDetected, device.FieldMotion: true},
		},
		{
			name:   "contact left open",
			family: "contact",
			fields: map[string]any{"openState": "timeOutNotClose"},
			want:   device.State{device.FieldContact: device.ContactNotDetected},
		},
		{
			name:   "contact local closed",
			family: "contact",
			fields: map[string]any{"doorState": "close", "movement": false},
			want:   device.State{device.FieldContact: device.ContactDetected, device.FieldMotion: false},
		},
		{
			name:   "motion webhook",
			family: "motion",
			fields: map[string]any{"detectionState": "DETECTED"},
			want:   device.State{device.FieldMotion: true},
		},
		{
			name:   "plug webhook",
			family: "plug",
			fields: map[string]any{"powerState": "ON"},
			want:   device.State{device.FieldPower: true},
		},
		{
			name:   "bot local",
			family: "bot",
			fields: map[string]any{"state": true, "battery": float64(5)},
			want:   device.State{device.FieldPower: true, device.FieldBatteryLevel: 5, device.FieldLowBattery: true},
		},
		{
			name:   "vacuum charging",
			family: "vacuum",
			fields: map[string]any{"workingStatus": "Charging", "onlineStatus": "online"},
			want:   device.State{device.FieldPower: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fam, err := Lookup(tt.family)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			got, errs := fam.Decode(transport.RawStatus{Fields: tt.fields})
			if len(errs) != 0 {
				t.Fatalf("errors = %v", errs)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Decode() = %v, want %v", got, tt.want)
			}
			for f, v := range tt.want {
				if got[f] != v {
					t.Errorf("%s = %v (%T), want %v (%T)", f, got[f], got[f], v, v)
				}
			}
		})
	}
}

func TestDecodeParseErrorSkipsOnlyBadKey(t *testing.T) {
	fam, _ := Lookup("meter")
	patch, errs := fam.Decode(transport.RawStatus{Fields: map[string]any{
		"temperature": "n/a",
		"humidity":    float64(45),
	}})
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1", errs)
	}
	var pe *ParseError
	if !errors.As(errs[0], &pe) || pe.Key != "temperature" {
		t.Errorf("error = %v, want ParseError for temperature", errs[0])
	}
	if patch.Has(device.FieldTemperature) || patch[device.FieldHumidity] != 45 {
		t.Errorf("patch = %v", patch)
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("toaster"); !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("Lookup(toaster) error = %v", err)
	}
	fam, err := LookupDeviceType("Contact Sensor")
	if err != nil || fam.Name() != "contact" {
		t.Errorf("LookupDeviceType(Contact Sensor) = %v, %v", fam, err)
	}
	if fam, err := Lookup(" Curtain "); err != nil || fam.Name() != "curtain" {
		t.Errorf("Lookup is not case/space tolerant: %v", err)
	}
	if len(Names()) != 9 {
		t.Errorf("Names() = %v, want 9 families", Names())
	}
}

func TestSafeStateIsInDomainAndIndependent(t *testing.T) {
	for _, name := range Names() {
		fam, _ := Lookup(name)
		safe := fam.SafeState()
		for f, v := range safe {
			dom, ok := fam.Fields()[f]
			if !ok || !dom.Contains(v) {
				t.Errorf("%s: safe %s = %v not in domain", name, f, v)
			}
		}
		safe[device.FieldFault] = true
		if fam.SafeState().Has(device.FieldFault) {
			t.Errorf("%s: SafeState() returned shared map", name)
		}
	}

	contact, _ := Lookup("contact")
	if contact.SafeState()[device.FieldContact] != device.ContactDetected {
		t.Error("contact safe state should be detected (closed)")
	}
}

func TestServicesOnlyReferenceDeclaredFields(t *testing.T) {
	for _, name := range Names() {
		fam, _ := Lookup(name)
		fields := fam.Fields()
		for _, svc := range fam.Services() {
			for _, f := range svc.Fields {
				if _, ok := fields[f]; !ok {
					t.Errorf("%s: service %s references undeclared field %s", name, svc.Kind, f)
				}
			}
		}
	}
}
