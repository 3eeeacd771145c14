//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/instance-watch/internal/infrastructure/config"
)

// Integration tests for the MQTT client.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	return cfg
}

func TestIntegration_ConnectClose(t *testing.T) {
	client, err := Connect(integrationConfig("instancewatch-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationConfig("instancewatch-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := Topics{Prefix: "instancewatch-int"}
	patterns := []string{topics.AllStates(), topics.AllObjects()}

	for _, p := range patterns {
		if err := client.Subscribe(p, 1, func(string, []byte) error { return nil }); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", p, err)
		}
	}

	if client.SubscriptionCount() != len(patterns) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(patterns))
	}

	if err := client.Unsubscribe(patterns[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(patterns[0]) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
}

func TestIntegration_RetainedStateRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("instancewatch-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	topics := Topics{Prefix: "instancewatch-int"}
	key := "system.adapter.sonos.0.alive"
	payload := `{"val":true,"ack":true,"ts":1700000000000}`

	if err := pub.Publish(topics.State(key), []byte(payload), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	sub, err := Connect(integrationConfig("instancewatch-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once

	err = sub.Subscribe(topics.AllStates(), 1, func(topic string, p []byte) error {
		if k, ok := topics.StateKey(topic); ok && k == key {
			once.Do(func() { received <- string(p) })
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != payload {
			t.Errorf("received = %q, want %q", msg, payload)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for retained state")
	}

	// Clear the retained message.
	_ = pub.Publish(topics.State(key), nil, 1, true)
}
