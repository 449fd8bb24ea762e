package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{address};
// the characteristic registry lives under graylogic/core/device.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixCore   = "graylogic/core"
	TopicPrefixSystem = "graylogic/system"
)

// Protocol is the protocol token used in bridge topics.
const Protocol = "switchbot"

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	ackTopic := topics.BridgeAck("C0FFEE000001")
//	// Returns: "graylogic/ack/switchbot/C0FFEE000001"
type Topics struct{}

// BridgeCommand returns the topic for commands to a device.
//
// Example: graylogic/command/switchbot/C0FFEE000001
func (Topics) BridgeCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, Protocol, deviceID)
}

// BridgeAck returns the topic for command acknowledgements.
//
// Example: graylogic/ack/switchbot/C0FFEE000001
func (Topics) BridgeAck(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, Protocol, deviceID)
}

// BridgeState returns the topic for whole-snapshot state updates.
//
// Example: graylogic/state/switchbot/C0FFEE000001
func (Topics) BridgeState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, Protocol, deviceID)
}

// BridgeError returns the topic for unresolved device API errors.
//
// Example: graylogic/error/switchbot/C0FFEE000001
func (Topics) BridgeError(deviceID string) string {
	return fmt.Sprintf("%s/error/%s/%s", TopicPrefixBridge, Protocol, deviceID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/switchbot
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, Protocol)
}

// AllBridgeCommands returns the subscription pattern for all device commands.
//
// Pattern: graylogic/command/switchbot/#
func (Topics) AllBridgeCommands() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefixBridge, Protocol)
}

// DeviceService returns the retained descriptor topic of a registry service.
//
// Example: graylogic/core/device/C0FFEE000001/service/window_covering
func (Topics) DeviceService(deviceID, kind string) string {
	return fmt.Sprintf("%s/device/%s/service/%s", TopicPrefixCore, deviceID, kind)
}

// DeviceCharacteristic returns the retained value topic of one characteristic.
//
// Example: graylogic/core/device/C0FFEE000001/service/window_covering/CurrentPosition
func (Topics) DeviceCharacteristic(deviceID, kind, name string) string {
	return fmt.Sprintf("%s/device/%s/service/%s/%s", TopicPrefixCore, deviceID, kind, name)
}

// GatewayAdvertisements returns the subscription pattern for advertisements
// relayed by a BLE gateway.
//
// Example: switchbot/ble/adv/#
func (Topics) GatewayAdvertisements(prefix string) string {
	return fmt.Sprintf("%s/adv/#", prefix)
}

// GatewayCommand returns the topic a BLE gateway accepts commands on.
//
// Example: switchbot/ble/cmd/C0FFEE000001
func (Topics) GatewayCommand(prefix, address string) string {
	return fmt.Sprintf("%s/cmd/%s", prefix, address)
}

// SystemStatus returns the online/offline status topic for a client.
//
// Example: graylogic/system/status/graylogic-switchbot
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// validatePublishTopic rejects empty topics and topics carrying + or #.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrWildcardTopic, topic)
	}
	return nil
}

// validateFilter checks wildcard placement in a subscription filter: + must
// fill a whole level and # must be the final level.
func validateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: # must be the last level in %q", ErrInvalidTopic, filter)
		case level != "#" && level != "+" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard inside level %q of %q", ErrInvalidTopic, level, filter)
		}
	}
	return nil
}

// MatchFilter reports whether topic is matched by a subscription filter.
func MatchFilter(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
