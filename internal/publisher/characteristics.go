package publisher

import (
	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// Characteristic names written to the registry.
const (
	CharOn                      = "On"
	CharCurrentPosition         = "CurrentPosition"
	CharTargetPosition          = "TargetPosition"
	CharPositionState           = "PositionState"
	CharBrightness              = "Brightness"
	CharBatteryLevel            = "BatteryLevel"
	CharStatusLowBattery        = "StatusLowBattery"
	CharContactSensorState      = "ContactSensorState"
	CharMotionDetected          = "MotionDetected"
	CharCurrentTemperature      = "CurrentTemperature"
	CharCurrentRelativeHumidity = "CurrentRelativeHumidity"
	CharSuctionLevel            = "SuctionLevel"
	CharRotationSpeed           = "RotationSpeed"
	CharStatusFault             = "StatusFault"
)

// Registry enumerations.
const (
	ContactDetected    = 0
	ContactNotDetected = 1

	PositionStopped = 2
	PositionMoving  = 1

	StatusNormal = 0
	StatusRaised = 1
)

// Value is one characteristic write.
type Value struct {
	Name  string
	Value any
}

// Characteristics maps a capability field to the characteristic values it
// produces. Unknown fields and values outside the field's representation
// produce nothing.
func Characteristics(field device.Field, value any) []Value {
	switch field {
	case device.FieldPower:
		if b, ok := value.(bool); ok {
			return []Value{{CharOn, b}}
		}
	case device.FieldPosition:
		if p, ok := value.(int); ok {
			return []Value{{CharCurrentPosition, p}, {CharTargetPosition, p}}
		}
	case device.FieldMoving:
		if b, ok := value.(bool); ok {
			state := PositionStopped
			if b {
				state = PositionMoving
			}
			return []Value{{CharPositionState, state}}
		}
	case device.FieldBrightness:
		if n, ok := value.(int); ok {
			return []Value{{CharBrightness, n}}
		}
	case device.FieldBatteryLevel:
		if n, ok := value.(int); ok {
			return []Value{{CharBatteryLevel, n}}
		}
	case device.FieldLowBattery:
		if b, ok := value.(bool); ok {
			return []Value{{CharStatusLowBattery, status(b)}}
		}
	case device.FieldContact:
		switch value {
		case device.ContactDetected:
			return []Value{{CharContactSensorState, ContactDetected}}
		case device.ContactNotDetected:
			return []Value{{CharContactSensorState, ContactNotDetected}}
		}
	case device.FieldMotion:
		if b, ok := value.(bool); ok {
			return []Value{{CharMotionDetected, b}}
		}
	case device.FieldTemperature:
		if f, ok := value.(float64); ok {
			return []Value{{CharCurrentTemperature, f}}
		}
	case device.FieldHumidity:
		if n, ok := value.(int); ok {
			return []Value{{CharCurrentRelativeHumidity, n}}
		}
	case device.FieldSuctionLevel:
		if n, ok := value.(int); ok {
			return []Value{{CharSuctionLevel, n}}
		}
	case device.FieldFanSpeed:
		if n, ok := value.(int); ok {
			return []Value{{CharRotationSpeed, n}}
		}
	case device.FieldFault:
		if b, ok := value.(bool); ok {
			return []Value{{CharStatusFault, status(b)}}
		}
	}
	return nil
}

func status(raised bool) int {
	if raised {
		return StatusRaised
	}
	return StatusNormal
}

// serviceValues returns the characteristic writes for one service: its own
// fields in declaration order, then the fault indicator, which every service
// carries. Fields missing from state are skipped.
func serviceValues(svc device.Service, state device.State) []Value {
	var out []Value
	for _, f := range svc.Fields {
		v, ok := state[f]
		if !ok {
			continue
		}
		out = append(out, Characteristics(f, v)...)
	}
	if v, ok := state[device.FieldFault]; ok {
		out = append(out, Characteristics(device.FieldFault, v)...)
	}
	return out
}
