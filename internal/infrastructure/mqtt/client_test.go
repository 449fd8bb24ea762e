package mqtt

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/config"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"BridgeCommand", topics.BridgeCommand("C0FFEE000001"), "graylogic/command/switchbot/C0FFEE000001"},
		{"BridgeAck", topics.BridgeAck("C0FFEE000001"), "graylogic/ack/switchbot/C0FFEE000001"},
		{"BridgeState", topics.BridgeState("C0FFEE000001"), "graylogic/state/switchbot/C0FFEE000001"},
		{"BridgeError", topics.BridgeError("C0FFEE000001"), "graylogic/error/switchbot/C0FFEE000001"},
		{"BridgeHealth", topics.BridgeHealth(), "graylogic/health/switchbot"},
		{"AllBridgeCommands", topics.AllBridgeCommands(), "graylogic/command/switchbot/#"},
		{"DeviceService", topics.DeviceService("AA", "switch"), "graylogic/core/device/AA/service/switch"},
		{"DeviceCharacteristic", topics.DeviceCharacteristic("AA", "switch", "On"), "graylogic/core/device/AA/service/switch/On"},
		{"GatewayAdvertisements", topics.GatewayAdvertisements("switchbot/ble"), "switchbot/ble/adv/#"},
		{"GatewayCommand", topics.GatewayCommand("switchbot/ble", "C0:FF:EE:00:00:01"), "switchbot/ble/cmd/C0:FF:EE:00:00:01"},
		{"SystemStatus", topics.SystemStatus("graylogic-switchbot"), "graylogic/system/status/graylogic-switchbot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var msg statusPayload
	if err := json.Unmarshal(buildStatusPayload("client-1", "offline", "graceful_shutdown"), &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Status != "offline" || msg.ClientID != "client-1" || msg.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", msg)
	}
	if msg.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	dispatch(logger, func(string, []byte) error { panic("boom") }, "t", nil)

	if len(logger.errors) != 1 {
		t.Fatalf("errors logged = %d, want 1", len(logger.errors))
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	logger := &mockLogger{}
	dispatch(logger, func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	if len(logger.warns) != 1 {
		t.Fatalf("warnings logged = %d, want 1", len(logger.warns))
	}
}

func TestDispatch_NilLogger(t *testing.T) {
	dispatch(nil, func(string, []byte) error { panic("boom") }, "t", nil)
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{}

	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
	if err := c.Publish("a/b", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClient_ValidatesBeforeConnecting(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"empty publish topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"invalid publish qos", c.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"oversized payload", c.Publish("a", make([]byte, maxPayloadSize+1), 1, false), ErrPayloadTooLarge},
		{"wildcard publish topic", c.Publish("switchbot/ble/adv/#", nil, 1, false), ErrWildcardTopic},
		{"misplaced multi-level wildcard", c.Subscribe("a/#/b", 1, nil), ErrInvalidTopic},
		{"partial level wildcard", c.Subscribe("a/b+", 1, nil), ErrInvalidTopic},
		{"empty subscribe topic", c.Subscribe("", 1, nil), ErrInvalidTopic},
		{"invalid subscribe qos", c.Subscribe("a", 3, nil), ErrInvalidQoS},
		{"nil handler", c.Subscribe("a", 1, nil), ErrSubscribeFailed},
		{"empty unsubscribe topic", c.Unsubscribe(""), ErrInvalidTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := &Client{}
	c.trackSubscription(subscription{topic: "a/#", qos: 1})
	c.trackSubscription(subscription{topic: "b/+", qos: 0})

	if got := c.SubscriptionCount(); got != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", got)
	}
	c.untrackSubscription("a/#")
	if c.HasSubscription("a/#") {
		t.Error("HasSubscription(a/#) = true after untrack")
	}
	if !c.HasSubscription("b/+") {
		t.Error("HasSubscription(b/+) = false")
	}
}

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"switchbot/ble/adv/#", "switchbot/ble/adv/C0:FF:EE:00:00:01", true},
		{"switchbot/ble/adv/#", "switchbot/ble/adv", true},
		{"switchbot/ble/adv/#", "switchbot/ble/cmd/C0", false},
		{"graylogic/command/switchbot/+", "graylogic/command/switchbot/C0FFEE000001", true},
		{"graylogic/command/switchbot/+", "graylogic/command/switchbot/C0/extra", false},
		{"graylogic/command/switchbot/+", "graylogic/command/switchbot", false},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
	}
	for _, tt := range tests {
		if got := MatchFilter(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchFilter(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{}
	cfg.Broker.Host = "broker.local"
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "tcp://broker.local:8883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	if got := brokerURL(cfg); got != "ssl://broker.local:8883" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestDefaultQoS(t *testing.T) {
	tests := []struct {
		configured int
		want       byte
	}{
		{0, 0},
		{2, 2},
		{7, 1},
		{-1, 1},
	}
	for _, tt := range tests {
		c := &Client{cfg: config.MQTTConfig{QoS: tt.configured}}
		if got := c.defaultQoS(); got != tt.want {
			t.Errorf("defaultQoS(%d) = %d, want %d", tt.configured, got, tt.want)
		}
	}
}
