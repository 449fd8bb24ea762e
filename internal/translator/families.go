package translator

import (
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
)

// Raw keys cover three payload shapes: the cloud status body, the BLE
// serviceData relayed by the gateway, and the webhook context. Where they
// differ the alternatives are listed in order of preference.

var botFamily = &family{
	name:        "bot",
	deviceTypes: []string{"Bot"},
	localModel:  "H",
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldPower: device.Bool(),
	}),
	writable: map[device.Field]bool{device.FieldPower: true},
	services: []device.Service{
		{Kind: "switch", Fields: []device.Field{device.FieldPower}},
		batteryService,
	},
	decode: func(d *decoder) {
		d.power("power", "state")
		d.battery("battery")
	},
	encode: func(_ device.Field, v any) transport.Command {
		return powerCommand(v.(bool))
	},
	safe: device.State{device.FieldPower: false},
}

var plugFamily = &family{
	name:        "plug",
	deviceTypes: []string{"Plug", "Plug Mini (US)", "Plug Mini (JP)"},
	localModel:  "j",
	fields: map[device.Field]device.Domain{
		device.FieldPower: device.Bool(),
	},
	writable: map[device.Field]bool{device.FieldPower: true},
	services: []device.Service{
		{Kind: "outlet", Fields: []device.Field{device.FieldPower}},
	},
	decode: func(d *decoder) {
		d.power("power", "powerState", "state")
	},
	encode: func(_ device.Field, v any) transport.Command {
		return powerCommand(v.(bool))
	},
	safe: device.State{device.FieldPower: false},
}

// Curtain position is 0 = open on the vendor side and 100 = open in the
// capability model.
var curtainFamily = &family{
	name:        "curtain",
	deviceTypes: []string{"Curtain", "Curtain3"},
	localModel:  "c",
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldPosition: device.IntRange(0, 100),
		device.FieldMoving:   device.Bool(),
	}),
	writable: map[device.Field]bool{device.FieldPosition: true},
	services: []device.Service{
		{Kind: "window_covering", Fields: []device.Field{device.FieldPosition, device.FieldMoving}},
		batteryService,
	},
	decode: func(d *decoder) {
		if key, p, ok := d.number("slidePosition", "position"); ok {
			d.set(device.FieldPosition, key, 100-p)
		}
		d.flag(device.FieldMoving, "moving", "inMotion")
		d.battery("battery")
	},
	encode: func(_ device.Field, v any) transport.Command {
		return command("setPosition", "0,ff,"+strconv.Itoa(100-v.(int)))
	},
	safe: device.State{device.FieldMoving: false},
}

var contactFamily = &family{
	name:        "contact",
	deviceTypes: []string{"Contact Sensor"},
	localModel:  "d",
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldContact: device.Enum(device.ContactDetected, device.ContactNotDetected),
		device.FieldMotion:  device.Bool(),
	}),
	writable: map[device.Field]bool{},
	services: []device.Service{
		{Kind: "contact_sensor", Fields: []device.Field{device.FieldContact}},
		{Kind: "motion_sensor", Fields: []device.Field{device.FieldMotion}},
		batteryService,
	},
	decode: func(d *decoder) {
		if key, v, ok := d.lookup("openState", "doorState"); ok {
			if s, isString := v.(string); isString {
				d.set(device.FieldContact, key, contactFromDoor(s))
			} else {
				d.fail(key, v, "want string")
			}
		}
		d.flag(device.FieldMotion, "moveDetected", "movement")
		d.battery("battery")
	},
	safe: device.State{
		device.FieldContact: device.ContactDetected,
		device.FieldMotion:  false,
	},
}

// contactFromDoor maps a vendor door state to the contact enum. A closed
// door means contact detected; anything unrecognised is passed through so
// domain validation reports it.
func contactFromDoor(s string) string {
	switch strings.ToLower(strings.ReplaceAll(s, " ", "")) {
	case "close", "closed":
		return device.ContactDetected
	case "open", "timeoutnotclose", "timeoutnotclosed":
		return device.ContactNotDetected
	}
	return s
}

var motionFamily = &family{
	name:        "motion",
	deviceTypes: []string{"Motion Sensor"},
	localModel:  "s",
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldMotion: device.Bool(),
	}),
	writable: map[device.Field]bool{},
	services: []device.Service{
		{Kind: "motion_sensor", Fields: []device.Field{device.FieldMotion}},
		batteryService,
	},
	decode: func(d *decoder) {
		d.flag(device.FieldMotion, "moveDetected", "movement", "detectionState")
		d.battery("battery")
	},
	safe: device.State{device.FieldMotion: false},
}

var meterFamily = &family{
	name:        "meter",
	deviceTypes: []string{"Meter", "MeterPlus", "WoIOSensor", "Hub 2"},
	localModel:  "T",
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldTemperature: device.FloatRange(-40, 80),
		device.FieldHumidity:    device.IntRange(0, 100),
	}),
	writable: map[device.Field]bool{},
	services: []device.Service{
		{Kind: "temperature_sensor", Fields: []device.Field{device.FieldTemperature}},
		{Kind: "humidity_sensor", Fields: []device.Field{device.FieldHumidity}},
		batteryService,
	},
	decode: func(d *decoder) {
		d.numeric(device.FieldTemperature, "temperature")
		d.numeric(device.FieldHumidity, "humidity")
		d.battery("battery")
	},
	safe: device.State{},
}

// Vacuum power is true while cleaning; turning it off sends the robot home.
var vacuumFamily = &family{
	name:        "vacuum",
	deviceTypes: []string{"Robot Vacuum Cleaner S1", "Robot Vacuum Cleaner S1 Plus", "K10+", "K10+ Pro"},
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldPower:        device.Bool(),
		device.FieldSuctionLevel: device.IntRange(0, 3),
	}),
	writable: map[device.Field]bool{
		device.FieldPower:        true,
		device.FieldSuctionLevel: true,
	},
	services: []device.Service{
		{Kind: "vacuum", Fields: []device.Field{device.FieldPower, device.FieldSuctionLevel}},
		batteryService,
	},
	decode: func(d *decoder) {
		if key, v, ok := d.lookup("workingStatus"); ok {
			if s, isString := v.(string); isString {
				d.state[device.FieldPower] = vacuumCleaning(s)
			} else {
				d.fail(key, v, "want string")
			}
		}
		d.numeric(device.FieldSuctionLevel, "suctionLevel")
		d.battery("battery")
	},
	encode: func(field device.Field, v any) transport.Command {
		if field == device.FieldSuctionLevel {
			return command("PowLevel", strconv.Itoa(v.(int)))
		}
		if v.(bool) {
			return command("start", transport.DefaultParameter)
		}
		return command("dock", transport.DefaultParameter)
	},
	safe: device.State{device.FieldPower: false},
}

func vacuumCleaning(status string) bool {
	switch status {
	case "Clearing", "Cleaning", "InRemoteControl":
		return true
	}
	return false
}

var fanFamily = &family{
	name:        "fan",
	deviceTypes: []string{"Battery Circulator Fan", "Circulator Fan"},
	fields: batteryFields(map[device.Field]device.Domain{
		device.FieldPower:    device.Bool(),
		device.FieldFanSpeed: device.IntRange(1, 100),
	}),
	writable: map[device.Field]bool{
		device.FieldPower:    true,
		device.FieldFanSpeed: true,
	},
	services: []device.Service{
		{Kind: "fan", Fields: []device.Field{device.FieldPower, device.FieldFanSpeed}},
		batteryService,
	},
	decode: func(d *decoder) {
		d.power("power", "powerState")
		d.numeric(device.FieldFanSpeed, "fanSpeed")
		d.battery("battery")
	},
	encode: func(field device.Field, v any) transport.Command {
		if field == device.FieldFanSpeed {
			return command("setWindSpeed", strconv.Itoa(v.(int)))
		}
		return powerCommand(v.(bool))
	},
	safe: device.State{device.FieldPower: false},
}

var lightFamily = &family{
	name:        "light",
	deviceTypes: []string{"Color Bulb", "Strip Light", "Ceiling Light"},
	localModel:  "u",
	fields: map[device.Field]device.Domain{
		device.FieldPower:      device.Bool(),
		device.FieldBrightness: device.IntRange(1, 100),
	},
	writable: map[device.Field]bool{
		device.FieldPower:      true,
		device.FieldBrightness: true,
	},
	services: []device.Service{
		{Kind: "lightbulb", Fields: []device.Field{device.FieldPower, device.FieldBrightness}},
	},
	decode: func(d *decoder) {
		d.power("power", "powerState", "state")
		d.numeric(device.FieldBrightness, "brightness")
	},
	encode: func(field device.Field, v any) transport.Command {
		if field == device.FieldBrightness {
			return command("setBrightness", strconv.Itoa(v.(int)))
		}
		return powerCommand(v.(bool))
	},
	safe: device.State{device.FieldPower: false},
}
