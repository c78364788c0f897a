package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
)

func TestTopicsBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", topics.Telemetry("dev-1"), "vitalmesh/telemetry/dev-1"},
		{"device status", topics.DeviceStatus("dev-1"), "vitalmesh/device/dev-1/status"},
		{"device command", topics.DeviceCommand("dev-1"), "vitalmesh/command/dev-1"},
		{"system status", topics.SystemStatus(), "vitalmesh/system/status"},
		{"all telemetry", topics.AllTelemetry(), "vitalmesh/telemetry/+"},
		{"all device status", topics.AllDeviceStatus(), "vitalmesh/device/+/status"},
		{"all commands", topics.AllDeviceCommands(), "vitalmesh/command/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: config.MQTTConfig{QoS: 1}}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("vitalmesh/telemetry/dev-1", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad QoS error = %v, want ErrInvalidQoS", err)
	}

	huge := make([]byte, maxPayloadSize+1)
	if err := c.Publish("vitalmesh/telemetry/dev-1", huge, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("vitalmesh/#", 5, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad QoS error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("vitalmesh/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscribes must not be tracked")
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("vitalmesh-node")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, "vitalmesh-node") {
		t.Errorf("online payload = %s", online)
	}
	offline := buildOfflinePayload("vitalmesh-node")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "broker.local", Port: 8883, TLS: true, ClientID: "vitalmesh-node",
		},
		Auth:      config.MQTTAuthConfig{Username: "vm", Password: "secret"},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
	}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 {
		t.Fatalf("broker count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.local:8883" {
		t.Errorf("broker URL = %q, want ssl scheme for TLS", got)
	}
	if opts.ClientID != "vitalmesh-node" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "vm" {
		t.Errorf("Username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig missing for TLS broker")
	}
}
