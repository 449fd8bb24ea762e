//go:build integration

package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/config"
)

// These tests need a broker on 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func brokerConfig(clientID string) config.MQTTConfig {
	var cfg config.MQTTConfig
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = clientID
	cfg.QoS = 1
	cfg.Reconnect.InitialDelay = 1
	cfg.Reconnect.MaxDelay = 5
	return cfg
}

func dialBroker(t *testing.T, clientID string, opts ...Option) *Client {
	t.Helper()
	c, err := Connect(brokerConfig(clientID), opts...)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIntegration_GatewayAdvertisementFilter(t *testing.T) {
	c := dialBroker(t, "switchbot-int-adv")

	filter := Topics{}.GatewayAdvertisements("switchbot-int/ble")
	got := make(chan string, 4)
	if err := c.Subscribe(filter, 1, func(topic string, _ []byte) error {
		got <- topic
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	topic := "switchbot-int/ble/adv/C0:FF:EE:00:00:01"
	if err := c.PublishJSON(topic, map[string]any{"rssi": -61}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case delivered := <-got:
		if delivered != topic || !MatchFilter(filter, delivered) {
			t.Errorf("delivered on %q", delivered)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("advertisement not delivered")
	}
}

func TestIntegration_PresenceAnnounced(t *testing.T) {
	watcher := dialBroker(t, "switchbot-int-watch")
	statuses := make(chan statusPayload, 4)
	if err := watcher.Subscribe(Topics{}.SystemStatus("switchbot-int-presence"), 1, func(_ string, payload []byte) error {
		var s statusPayload
		if err := json.Unmarshal(payload, &s); err != nil {
			return err
		}
		statuses <- s
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	c := dialBroker(t, "switchbot-int-presence",
		WithWill(Topics{}.BridgeHealth(), []byte(`{"status":"offline"}`)))
	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-statuses:
			if s.Status == presenceOnline {
				return
			}
		case <-deadline:
			t.Fatal("online presence not seen")
		}
	}
}

func TestIntegration_UnreachableBroker(t *testing.T) {
	cfg := brokerConfig("switchbot-int-unreachable")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
