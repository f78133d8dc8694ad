package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "protector-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// offlineClient returns a client that never connected.
func offlineClient() *Client {
	return &Client{cfg: testConfig()}
}

// fakeMessage implements pahomqtt.Message.
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

// mockLogger implements Logger for testing.
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

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := offlineClient()

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, []byte("x"), ErrInvalidTopic},
		{"invalid qos", "protector/hq/hub", 3, []byte("x"), ErrInvalidQoS},
		{"oversized payload", "protector/hq/hub", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "protector/hq/hub", 1, []byte("x"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_NotConnected(t *testing.T) {
	c := offlineClient()
	err := c.PublishJSON(Topics{}.Hub("hq"), map[string]any{"phase": "running"}, true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishJSON_EncodeError(t *testing.T) {
	c := offlineClient()
	err := c.PublishJSON(Topics{}.Hub("hq"), make(chan int), true)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := offlineClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(offline) error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := offlineClient()
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("t"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(offline) error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Offline(t *testing.T) {
	c := offlineClient()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestWrapHandler_RecoversAndLogs(t *testing.T) {
	c := offlineClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	failing := c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	failing(nil, fakeMessage{topic: "protector/hq/door/1/echo"})

	panicking := c.wrapHandler(func(string, []byte) error { panic("boom") })
	panicking(nil, fakeMessage{topic: "protector/hq/door/1/echo"})

	if len(logger.warns) != 1 {
		t.Errorf("warn count = %d, want 1", len(logger.warns))
	}
	if len(logger.errors) != 1 {
		t.Errorf("error count = %d, want 1", len(logger.errors))
	}
}

func TestStats_CountsLossesAndHandlerFailures(t *testing.T) {
	c := offlineClient()
	if s := c.Stats(); s.Connects != 0 || s.LastLossAt != nil || s.LastConnectAt != nil {
		t.Fatalf("fresh Stats() = %+v", s)
	}

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })
	c.handleDisconnect(errors.New("broker went away"))

	c.wrapHandler(func(string, []byte) error { return errors.New("bad echo") })(nil, fakeMessage{topic: "protector/hq/door/1/echo"})
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "protector/hq/door/1/echo"})
	c.wrapHandler(func(string, []byte) error { return nil })(nil, fakeMessage{topic: "protector/hq/door/1/echo"})

	s := c.Stats()
	if s.Connected {
		t.Error("Connected = true after loss")
	}
	if s.ConnectionLosses != 1 || s.LastLossAt == nil || s.LastLossReason != "broker went away" {
		t.Errorf("loss stats = %+v", s)
	}
	if s.HandlerFailures != 2 {
		t.Errorf("HandlerFailures = %d, want 2", s.HandlerFailures)
	}
	if gotErr == nil {
		t.Error("disconnect callback not invoked")
	}
}

func TestSubscriptionSet(t *testing.T) {
	var set subscriptionSet
	noop := func(string, []byte) error { return nil }

	set.put(subscription{topic: "protector/b/door/+/echo", qos: 1, handler: noop})
	set.put(subscription{topic: "protector/a/door/+/echo", qos: 1, handler: noop})
	set.put(subscription{topic: "protector/a/door/+/echo", qos: 0, handler: noop})

	if set.len() != 2 {
		t.Fatalf("len() = %d, want 2", set.len())
	}
	all := set.all()
	if all[0].topic != "protector/a/door/+/echo" || all[0].qos != 0 {
		t.Errorf("all()[0] = %+v, want latest registration first by topic", all[0])
	}
	set.remove("protector/a/door/+/echo")
	if set.has("protector/a/door/+/echo") || !set.has("protector/b/door/+/echo") {
		t.Error("remove() affected the wrong filter")
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "protector-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "protector-test")
	}
	if opts.Username != "bridge" {
		t.Errorf("Username = %q, want %q", opts.Username, "bridge")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want non-nil when TLS enabled")
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("c1"), "online", ""},
		{"graceful offline", buildOfflinePayload("c1"), "offline", "graceful_shutdown"},
		{"lwt", buildLWTPayload("c1"), "offline", "unexpected_disconnect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p statusPayload
			if err := json.Unmarshal([]byte(tt.payload), &p); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if p.Status != tt.wantStatus || p.Reason != tt.wantReason || p.ClientID != "c1" {
				t.Errorf("payload = %+v, want status=%s reason=%s", p, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"DoorStatus", topics.DoorStatus("hq", 12), "protector/hq/door/12/status"},
		{"DoorLog", topics.DoorLog("hq", 12), "protector/hq/door/12/log"},
		{"DoorEcho", topics.DoorEcho("hq", 12), "protector/hq/door/12/echo"},
		{"Hub", topics.Hub("hq"), "protector/hq/hub"},
		{"BridgeHealth", topics.BridgeHealth(), "protector/system/health"},
		{"SystemStatus", topics.SystemStatus(), "protector/system/status"},
		{"AllDoorEchoes", topics.AllDoorEchoes("hq"), "protector/hq/door/+/echo"},
		{"AllTopics", topics.AllTopics(), "protector/#"},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
		}
	}
}

func TestParseDoorTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   DoorTopic
		wantOK bool
	}{
		{"protector/hq/door/12/echo", DoorTopic{InstanceID: "hq", DoorID: 12, Kind: "echo"}, true},
		{"protector/hq/door/7/status", DoorTopic{InstanceID: "hq", DoorID: 7, Kind: "status"}, true},
		{"protector/hq/door/x/echo", DoorTopic{}, false},
		{"protector/hq/hub", DoorTopic{}, false},
		{"other/hq/door/1/echo", DoorTopic{}, false},
		{"protector//door/1/echo", DoorTopic{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDoorTopic(tt.topic)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseDoorTopic(%q) = %+v, %v; want %+v, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTopicsRoundTripThroughParser(t *testing.T) {
	topic := Topics{}.DoorEcho("site-a", 42)
	parsed, ok := ParseDoorTopic(topic)
	if !ok || parsed.InstanceID != "site-a" || parsed.DoorID != 42 || parsed.Kind != DoorKindEcho {
		t.Errorf("ParseDoorTopic(%q) = %+v, %v", topic, parsed, ok)
	}
	if !strings.HasPrefix(topic, TopicPrefix+"/") {
		t.Errorf("topic %q lacks prefix %q", topic, TopicPrefix)
	}
}
