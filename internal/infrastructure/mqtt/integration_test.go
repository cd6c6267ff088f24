//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/therapy-core/internal/infrastructure/config"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_DeviceTopicRoundtrip(t *testing.T) {
	client, err := Connect(integrationConfig("therapycore-int-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	if err := client.Subscribe("+/+/+", 2, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription("+/+/+") {
		t.Error("subscription not tracked")
	}

	topic := DeviceTopic("fes", 42, "ack")
	if err := client.Publish(topic, []byte(`{"msgId":"x"}`), 2, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `fes/42/ack {"msgId":"x"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig("therapycore-int-refused")
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
}
