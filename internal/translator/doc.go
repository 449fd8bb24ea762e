// Package translator maps between vendor payloads and capability state.
//
// Each device family (bot, plug, curtain, contact, motion, meter, vacuum,
// fan, light) declares its fields, their domains and the registry services it
// exposes, and supplies a Decode/Encode pair. Decode is total: missing keys
// produce nothing and malformed keys produce a ParseError without touching
// the field. Encode is deterministic.
//
// Battery levels below LowBatteryThreshold set lowBattery.
package translator
