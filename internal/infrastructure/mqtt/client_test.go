package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
)

// These tests run without a broker. They cover option building, topic
// naming and the validation every operation performs before touching the
// network.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "cmdbroker-test",
		},
		QoS:         1,
		TopicPrefix: "cmdbroker",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "broker-a"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SystemStatus", topics.SystemStatus(), "broker-a/system/status"},
		{"CommandEvent", topics.CommandEvent("abc", "dispatched"), "broker-a/command/abc/dispatched"},
		{"AllCommandEvents", topics.AllCommandEvents(), "broker-a/command/+/+"},
		{"Ingress", topics.Ingress(), "broker-a/ingress"},
		{"IngressAck", topics.IngressAck(), "broker-a/ingress/ack"},
		{"QueueStats", topics.QueueStats(), "broker-a/queue/stats"},
		{"AllTopics", topics.AllTopics(), "broker-a/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestTopics_ZeroValueUsesDefaultPrefix(t *testing.T) {
	got := Topics{}.SystemStatus()
	if !strings.HasPrefix(got, DefaultTopicPrefix+"/") {
		t.Errorf("SystemStatus() = %q, want prefix %q", got, DefaultTopicPrefix)
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Fatalf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "cmdbroker-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "cmdbroker-test")
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("credentials = %q/%q, want user/pass", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if !opts.CleanSession {
		t.Error("CleanSession should be enabled")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS should not be configured without broker.tls")
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
		t.Error("TLS config should enforce minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{Prefix: "cmdbroker"}, "cmdbroker-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "cmdbroker/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var msg statusPayload
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if msg.Status != "offline" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", msg)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var msg statusPayload
	if err := json.Unmarshal([]byte(buildStatusPayload("online", "id-1", "")), &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Status != "online" || msg.ClientID != "id-1" || msg.Timestamp == "" {
		t.Errorf("payload = %+v", msg)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "cmdbroker/test", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "cmdbroker/test", make([]byte, maxPayloadSize+1), 1, ErrPayloadTooLarge},
		{"disconnected", "cmdbroker/test", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"invalid qos", "cmdbroker/ingress", 5, handler, ErrInvalidQoS},
		{"nil handler", "cmdbroker/ingress", 1, nil, ErrSubscribeFailed},
		{"disconnected", "cmdbroker/ingress", 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
	if client.HasSubscription("cmdbroker/ingress") {
		t.Error("HasSubscription() = true after failed subscribe")
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("cmdbroker/ingress"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	var nilClient *Client
	if nilClient.IsConnected() {
		t.Error("IsConnected() should be false for nil client")
	}

	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestHealthCheck(t *testing.T) {
	client := &Client{}

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error { panic("boom") }, "cmdbroker/ingress", nil)

	if len(logger.errors) != 1 {
		t.Errorf("expected one error log, got %v", logger.errors)
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "cmdbroker/ingress", nil)

	if len(logger.warns) != 1 {
		t.Errorf("expected one warn log, got %v", logger.warns)
	}
}

func TestDispatch_NoLogger(t *testing.T) {
	client := &Client{}
	// Must not panic without a logger.
	client.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
}

func TestQoS(t *testing.T) {
	client := &Client{cfg: config.MQTTConfig{QoS: 2}}
	if client.QoS() != 2 {
		t.Errorf("QoS() = %d, want 2", client.QoS())
	}
}
