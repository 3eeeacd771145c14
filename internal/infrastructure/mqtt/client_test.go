package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/instance-watch/internal/infrastructure/config"
)

// Unit tests that need no broker. Broker-backed tests live in
// integration_test.go behind the integration build tag.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "instancewatch-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name:     "State default prefix",
			builder:  func() string { return Topics{}.State("system.adapter.sonos.0.alive") },
			expected: "iobroker/states/system/adapter/sonos/0/alive",
		},
		{
			name:     "State custom prefix",
			builder:  func() string { return Topics{Prefix: "home/"}.State("sonos.0.info.connection") },
			expected: "home/states/sonos/0/info/connection",
		},
		{
			name:     "Object",
			builder:  func() string { return Topics{}.Object("system.adapter.sonos.0") },
			expected: "iobroker/objects/system/adapter/sonos/0",
		},
		{
			name:     "AllStates",
			builder:  func() string { return Topics{}.AllStates() },
			expected: "iobroker/states/#",
		},
		{
			name:     "AllObjects",
			builder:  func() string { return Topics{Prefix: "home"}.AllObjects() },
			expected: "home/objects/#",
		},
		{
			name:     "SystemStatus",
			builder:  func() string { return Topics{}.SystemStatus() },
			expected: "instancewatch/system/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.builder(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTopicKeyExtraction(t *testing.T) {
	topics := Topics{Prefix: "iobroker"}

	tests := []struct {
		name    string
		topic   string
		extract func(string) (string, bool)
		wantKey string
		wantOK  bool
	}{
		{"state topic", "iobroker/states/system/adapter/sonos/0/alive", topics.StateKey, "system.adapter.sonos.0.alive", true},
		{"object topic", "iobroker/objects/system/adapter/sonos/0", topics.ObjectKey, "system.adapter.sonos.0", true},
		{"object topic as state", "iobroker/objects/system/adapter/sonos/0", topics.StateKey, "", false},
		{"foreign prefix", "other/states/a/b", topics.StateKey, "", false},
		{"bare root", "iobroker/states/", topics.StateKey, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := tt.extract(tt.topic)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("extract(%q) = (%q, %v), want (%q, %v)", tt.topic, key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestTopicRoundtrip(t *testing.T) {
	topics := Topics{}
	key := "instance-watch.0.instances.sonos.0.isOperating"

	got, ok := topics.StateKey(topics.State(key))
	if !ok || got != key {
		t.Errorf("StateKey(State(%q)) = (%q, %v)", key, got, ok)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "watcher"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "instancewatch-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "watcher" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured for plain connection")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS minimum version not applied")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "instancewatch-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != (Topics{}).SystemStatus() {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("iw")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"iw"`) {
		t.Errorf("online payload = %s", online)
	}

	offline := buildOfflinePayload("iw")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

// =============================================================================
// Validation Tests (no connection required)
// =============================================================================

func newDisconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := newDisconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newDisconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := c.Subscribe("a/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("a/#") {
		t.Error("HasSubscription() = true for rejected subscription")
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
	if err := c.Unsubscribe("a/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := newDisconnectedClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestSetLogger(t *testing.T) {
	c := newDisconnectedClient()
	logger := &mockLogger{}

	c.SetLogger(logger)
	if c.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	c.SetLogger(nil)
	if c.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

func TestHandleDisconnect_InvokesCallback(t *testing.T) {
	c := newDisconnectedClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	lost := errors.New("link down")
	c.handleDisconnect(lost)

	if !errors.Is(got, lost) {
		t.Errorf("callback error = %v, want %v", got, lost)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %d, want 1", len(logger.warns))
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	infos  []string
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
