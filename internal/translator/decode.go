package translator

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// LowBatteryThreshold is the battery percentage below which lowBattery is
// reported. A level equal to the threshold is normal.
const LowBatteryThreshold = 10

// decoder accumulates a state patch from one raw payload. Missing keys are
// ignored; malformed values become ParseErrors and leave the field untouched.
type decoder struct {
	fields  map[string]any
	domains map[device.Field]device.Domain
	state   device.State
	errs    []error
}

func newDecoder(fields map[string]any, domains map[device.Field]device.Domain) *decoder {
	return &decoder{
		fields:  fields,
		domains: domains,
		state:   device.State{},
	}
}

// lookup returns the first present, non-nil key.
func (d *decoder) lookup(keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := d.fields[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

func (d *decoder) fail(key string, value any, reason string) {
	d.errs = append(d.errs, &ParseError{Key: key, Value: value, Reason: reason})
}

// set validates value against the field's domain before storing it.
func (d *decoder) set(field device.Field, key string, value any) {
	dom, ok := d.domains[field]
	if !ok {
		return
	}
	v, err := dom.Validate(value)
	if err != nil {
		d.fail(key, value, err.Error())
		return
	}
	d.state[field] = v
}

// number reads a numeric key.
func (d *decoder) number(keys ...string) (string, float64, bool) {
	key, v, ok := d.lookup(keys...)
	if !ok {
		return "", 0, false
	}
	f, ok := asFloat(v)
	if !ok {
		d.fail(key, v, "want number")
		return "", 0, false
	}
	return key, f, true
}

// numeric copies a number key straight into field.
func (d *decoder) numeric(field device.Field, keys ...string) {
	if key, f, ok := d.number(keys...); ok {
		d.set(field, key, f)
	}
}

// power reads "on"/"off" strings or booleans.
func (d *decoder) power(keys ...string) {
	key, v, ok := d.lookup(keys...)
	if !ok {
		return
	}
	on, ok := parseOnOff(v)
	if !ok {
		d.fail(key, v, "want on/off")
		return
	}
	d.state[device.FieldPower] = on
}

// flag reads a boolean or a DETECTED/NOT_DETECTED string into field.
func (d *decoder) flag(field device.Field, keys ...string) {
	key, v, ok := d.lookup(keys...)
	if !ok {
		return
	}
	switch val := v.(type) {
	case bool:
		d.state[field] = val
		return
	case string:
		switch strings.ToLower(val) {
		case "true", "detected":
			d.state[field] = true
			return
		case "false", "not_detected":
			d.state[field] = false
			return
		}
	}
	d.fail(key, v, "want boolean")
}

// battery sets batteryLevel and lowBattery together.
func (d *decoder) battery(keys ...string) {
	key, level, ok := d.number(keys...)
	if !ok {
		return
	}
	v, err := device.IntRange(0, 100).Validate(level)
	if err != nil {
		d.fail(key, level, err.Error())
		return
	}
	pct := v.(int)
	d.state[device.FieldBatteryLevel] = pct
	d.state[device.FieldLowBattery] = pct < LowBatteryThreshold
}

func (d *decoder) result() (device.State, []error) {
	return d.state, d.errs
}

func parseOnOff(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(val) {
		case "on", "true":
			return true, true
		case "off", "false":
			return false, true
		}
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}
