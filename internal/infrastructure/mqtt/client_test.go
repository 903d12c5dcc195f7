package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "ceazamet-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestNewOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "ingest", Password: "pw"}

	opts := newOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "ceazamet-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "ceazamet-test")
	}
	if opts.Username != "ingest" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q, want ingest/pw", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("expected auto-reconnect and connect retry")
	}
	if opts.ConnectRetryInterval != time.Second || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("retry = %v..%v, want 1s..5s", opts.ConnectRetryInterval, opts.MaxReconnectInterval)
	}
}

func TestNewOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := newOptions(cfg)

	if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("broker = %q, want ssl://127.0.0.1:8883", got)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Error("expected TLS 1.2+ config")
	}
}

func TestNewOptions_LastWill(t *testing.T) {
	opts := newOptions(testConfig())

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatalf("will enabled=%v retained=%v, want both", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "ceazamet/system/status" {
		t.Errorf("WillTopic = %q, want ceazamet/system/status", opts.WillTopic)
	}

	var status Status
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not a Status: %v", err)
	}
	if status.State != StateOffline || status.Reason != reasonConnectionLost || status.ClientID != "ceazamet-test" {
		t.Errorf("will = %+v", status)
	}
}

func TestStatusPayload(t *testing.T) {
	raw := statusPayload("c1", StateOnline, "")

	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if fields["status"] != "online" || fields["client_id"] != "c1" {
		t.Errorf("payload = %v", fields)
	}
	if _, ok := fields["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
	if _, err := time.Parse(time.RFC3339, fields["timestamp"]); err != nil {
		t.Errorf("timestamp %q: %v", fields["timestamp"], err)
	}
}

// fakeToken is a paho token that completes (or not) on demand.
type fakeToken struct {
	done bool
	err  error
}

func (f fakeToken) Wait() bool                     { return f.done }
func (f fakeToken) WaitTimeout(time.Duration) bool { return f.done }
func (f fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if f.done {
		close(ch)
	}
	return ch
}
func (f fakeToken) Error() error { return f.err }

func TestAwait(t *testing.T) {
	refused := errors.New("not authorised")

	if err := await(fakeToken{done: true}, time.Millisecond); err != nil {
		t.Errorf("completed token error = %v", err)
	}
	if err := await(fakeToken{done: true, err: refused}, time.Millisecond); !errors.Is(err, refused) {
		t.Errorf("failed token error = %v, want %v", err, refused)
	}
	if err := await(fakeToken{}, time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expired token error = %v, want ErrTimeout", err)
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestCloseNil(t *testing.T) {
	var client *Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
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

func TestPublish_Validation(t *testing.T) {
	client := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "ceazamet/x", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "ceazamet/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "ceazamet/x", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_EncodeError(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.PublishJSON("ceazamet/x", map[string]any{"bad": make(chan int)}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := &Client{}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Reading", topics.Reading("PC", "TA_PC"), "ceazamet/reading/PC/TA_PC"},
		{"Reading sanitises levels", topics.Reading("a/b", "c+#"), "ceazamet/reading/a_b/c__"},
		{"Reading empty code", topics.Reading("", "X"), "ceazamet/reading/_/X"},
		{"AllReadings", topics.AllReadings(), "ceazamet/reading/+/+"},
		{"SystemStatus", topics.SystemStatus(), "ceazamet/system/status"},
		{"RoundReport", topics.RoundReport(), "ceazamet/system/round"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
			if !strings.HasPrefix(tt.got, TopicPrefix+"/") {
				t.Errorf("%q is outside the %s tree", tt.got, TopicPrefix)
			}
		})
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandler_RecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{}
	client.SetLogger(logger)

	panicky := client.wrapHandler(func(string, []byte) error { panic("boom") })
	failing := client.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })

	panicky(nil, fakeMessage{topic: "ceazamet/reading/PC/TA_PC"})
	failing(nil, fakeMessage{topic: "ceazamet/reading/PC/TA_PC"})

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}
