package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeInstance implements Instance.
type fakeInstance struct {
	id    string
	mu    sync.Mutex
	hub   protector.HubStatus
	doors []protector.Door
}

func (f *fakeInstance) InstanceID() string { return f.id }

func (f *fakeInstance) Status() protector.HubStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hub
}

func (f *fakeInstance) Doors() []protector.Door {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protector.Door{}, f.doors...)
}

type fakeBroker struct{ stats mqtt.Stats }

func (f fakeBroker) Stats() mqtt.Stats { return f.stats }

type apiFixture struct {
	srv  *Server
	bus  *dispatch.Bus
	http *httptest.Server
	inst *fakeInstance
}

func newAPIFixture(t *testing.T, secret string) *apiFixture {
	t.Helper()

	inst := &fakeInstance{
		id: "site-a",
		hub: protector.HubStatus{
			InstanceID:  "site-a",
			Phase:       protector.PhaseRunning,
			Connected:   true,
			MappedDoors: 2,
			Reconnects:  3,
		},
		doors: []protector.Door{
			{ID: 1, Name: "Front Door", StatusID: "C1::D1"},
			{ID: 7, Name: "Loading Dock", StatusID: "C1::D7"},
		},
	}
	bus := dispatch.NewBus()

	srv, err := New(Deps{
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:    logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Bus:       bus,
		Instances: []Instance{inst},
		MQTT:      fakeBroker{stats: mqtt.Stats{Connected: true, Connects: 2, ConnectionLosses: 1}},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "protector_hub_connect_attempts_total 1\n")
		}),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.subscribeBus()
	t.Cleanup(srv.unsubscribeBus)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return &apiFixture{srv: srv, bus: bus, http: ts, inst: inst}
}

func (f *apiFixture) get(t *testing.T, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.http.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, body
}

func signToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func TestNew_Validation(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	bus := dispatch.NewBus()
	a := &fakeInstance{id: "a"}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Bus: bus}},
		{"no bus", Deps{Logger: log}},
		{"duplicate instance", Deps{Logger: log, Bus: bus, Instances: []Instance{a, a}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, testSecret)

	resp, body := f.get(t, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if out["status"] != "ok" || out["version"] != "test" {
		t.Errorf("health = %v", out)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestListInstancesAndHub(t *testing.T) {
	f := newAPIFixture(t, "")

	resp, body := f.get(t, "/api/v1/instances", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var list struct {
		Instances []instanceSummary `json:"instances"`
		Count     int               `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if list.Count != 1 || list.Instances[0].ID != "site-a" || list.Instances[0].Hub.Phase != protector.PhaseRunning {
		t.Errorf("instances = %+v", list)
	}

	resp, body = f.get(t, "/api/v1/instances/site-a/hub", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hub status = %d, want 200", resp.StatusCode)
	}
	var hub protector.HubStatus
	if err := json.Unmarshal(body, &hub); err != nil {
		t.Fatalf("hub is not JSON: %v", err)
	}
	if hub.Reconnects != 3 || hub.MappedDoors != 2 {
		t.Errorf("hub = %+v", hub)
	}

	resp, body = f.get(t, "/api/v1/instances/nope/hub", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instance status = %d, want 404", resp.StatusCode)
	}
	var apiErr Error
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code != ErrCodeNotFound {
		t.Errorf("error body = %s", body)
	}
}

func TestDoors_MergePartialUpdates(t *testing.T) {
	f := newAPIFixture(t, "")
	ch := dispatch.Channels{}
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	f.bus.Publish(ch.DoorStatus("site-a"), protector.DoorStatusEvent{
		DoorID: 7, Status: protector.DoorStatus{Strike: boolPtr(true), TimeZone: intPtr(1)}, Timestamp: ts,
	})
	f.bus.Publish(ch.DoorStatus("site-a"), protector.DoorStatusEvent{
		DoorID: 7, Status: protector.DoorStatus{Overridden: boolPtr(true)}, Synthesized: true, Timestamp: ts.Add(time.Second),
	})
	f.bus.Publish(ch.DoorLog("site-a"), protector.DoorLogEvent{
		DoorID: 7, Log: "Loading Dock has been overridden", NotificationType: "DOOR_OVERRIDE", Timestamp: "2024-05-01T09:00:01",
	})

	resp, body := f.get(t, "/api/v1/instances/site-a/doors/7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}
	var door DoorView
	if err := json.Unmarshal(body, &door); err != nil {
		t.Fatalf("door is not JSON: %v", err)
	}
	if door.Name != "Loading Dock" {
		t.Errorf("Name = %q, want name from door map", door.Name)
	}
	if door.Status.Strike == nil || !*door.Status.Strike || door.Status.TimeZone == nil || *door.Status.TimeZone != 1 {
		t.Errorf("earlier fields lost: %+v", door.Status)
	}
	if door.Status.Overridden == nil || !*door.Status.Overridden || !door.Synthesized {
		t.Errorf("latest update missing: %+v", door)
	}
	if door.LastLog != "Loading Dock has been overridden" || door.LastLogType != "DOOR_OVERRIDE" {
		t.Errorf("last log = %q %q", door.LastLog, door.LastLogType)
	}
	if door.UpdatedAt == nil || !door.UpdatedAt.Equal(ts.Add(time.Second)) {
		t.Errorf("UpdatedAt = %v", door.UpdatedAt)
	}
}

func TestDoors_List(t *testing.T) {
	f := newAPIFixture(t, "")
	f.bus.Publish(dispatch.Channels{}.DoorStatus("site-a"), protector.DoorStatusEvent{
		DoorID: 12, DoorName: "Side Gate", Status: protector.DoorStatus{Opener: boolPtr(false)},
	})

	_, body := f.get(t, "/api/v1/instances/site-a/doors", "")
	var list struct {
		Doors []DoorView `json:"doors"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if list.Count != 3 {
		t.Fatalf("count = %d, want mapped doors plus stateful door", list.Count)
	}
	wantIDs := []int{1, 7, 12}
	for i, d := range list.Doors {
		if d.ID != wantIDs[i] {
			t.Errorf("doors[%d].ID = %d, want %d", i, d.ID, wantIDs[i])
		}
	}
	if list.Doors[0].Name != "Front Door" || !list.Doors[0].Status.IsEmpty() {
		t.Errorf("mapped door without state = %+v", list.Doors[0])
	}
	if list.Doors[2].Name != "Side Gate" {
		t.Errorf("event name not kept: %+v", list.Doors[2])
	}
}

func TestDoors_Errors(t *testing.T) {
	f := newAPIFixture(t, "")

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/instances/site-a/doors/abc", http.StatusBadRequest},
		{"/api/v1/instances/site-a/doors/99", http.StatusNotFound},
		{"/api/v1/instances/site-b/doors", http.StatusNotFound},
	}
	for _, tt := range tests {
		if resp, _ := f.get(t, tt.path, ""); resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestDoorStore_RejectsWrongPayload(t *testing.T) {
	d := newDoorStore()
	if err := d.applyStatus("site-a", "x"); err == nil {
		t.Error("applyStatus() error = nil for wrong payload")
	}
	if err := d.applyLog("site-a", protector.DoorStatusEvent{}); err == nil {
		t.Error("applyLog() error = nil for wrong payload")
	}
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t, testSecret)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-token", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "another-secret-key-at-least-32-characters", "ops", time.Hour), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, "ops", -time.Minute), http.StatusUnauthorized},
		{"no subject", signToken(t, testSecret, "", time.Hour), http.StatusUnauthorized},
		{"valid", signToken(t, testSecret, "ops", time.Hour), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp, _ := f.get(t, "/api/v1/instances", tt.token); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	token := signToken(t, testSecret, "ops", time.Hour)
	if resp, _ := f.get(t, "/api/v1/instances/site-a/hub?token="+token, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("query token status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	f := newAPIFixture(t, testSecret)
	f.bus.Publish(dispatch.Channels{}.HubStatus("site-a"), protector.HubStatus{})

	resp, body := f.get(t, "/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "protector_hub_connect_attempts_total") {
		t.Errorf("/metrics = %d %s", resp.StatusCode, body)
	}

	resp, body = f.get(t, "/api/v1/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/v1/metrics status = %d", resp.StatusCode)
	}
	var m SystemMetrics
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("metrics are not JSON: %v", err)
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected || m.MQTT.ConnectionLosses != 1 {
		t.Errorf("MQTT = %+v", m.MQTT)
	}
	if m.Dispatch.Published != 1 {
		t.Errorf("Dispatch.Published = %d, want 1", m.Dispatch.Published)
	}
	if len(m.Instances) != 1 || m.Instances[0].Reconnects != 3 {
		t.Errorf("Instances = %+v", m.Instances)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, "")

	req, _ := http.NewRequest(http.MethodOptions, f.http.URL+"/api/v1/instances", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://dashboard.local" {
		t.Errorf("Allow-Origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func dialWS(t *testing.T, f *apiFixture, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func TestWebSocket_RelaysSubscribedChannels(t *testing.T) {
	f := newAPIFixture(t, testSecret)

	ws, _, err := dialWS(t, f, "?token="+signToken(t, testSecret, "ops", time.Hour))
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	statusChannel := dispatch.Channels{}.DoorStatus("site-a")
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{statusChannel}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v", ack)
	}

	// Unsubscribed channel first; only the door status event must arrive.
	f.bus.Publish(dispatch.Channels{}.DoorLog("site-a"), protector.DoorLogEvent{DoorID: 1, Log: "ignored"})
	f.bus.Publish(statusChannel, protector.DoorStatusEvent{DoorID: 1, Status: protector.DoorStatus{Strike: boolPtr(true)}})

	var evt struct {
		Type      string                    `json:"type"`
		EventType string                    `json:"event_type"`
		Payload   protector.DoorStatusEvent `json:"payload"`
	}
	if err := ws.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != WSTypeEvent || evt.EventType != statusChannel {
		t.Errorf("event = %+v", evt)
	}
	if evt.Payload.DoorID != 1 || evt.Payload.Status.Strike == nil || !*evt.Payload.Status.Strike {
		t.Errorf("payload = %+v", evt.Payload)
	}
	if f.srv.hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", f.srv.hub.ClientCount())
	}
}

func TestWebSocket_SubscribeReplaysHubAndRejectsUnknown(t *testing.T) {
	f := newAPIFixture(t, "")

	ws, _, err := dialWS(t, f, "")
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	hubChannel := dispatch.Channels{}.HubStatus("site-a")
	unknown := dispatch.Channels{}.HubStatus("site-z")
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-2",
		Payload: WSSubscribePayload{Channels: []string{hubChannel, unknown}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack struct {
		Type    string            `json:"type"`
		ID      string            `json:"id"`
		Payload WSSubscribeResult `json:"payload"`
	}
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-2" {
		t.Fatalf("ack = %+v", ack)
	}
	if len(ack.Payload.Subscribed) != 1 || ack.Payload.Subscribed[0] != hubChannel {
		t.Errorf("subscribed = %v, want [%s]", ack.Payload.Subscribed, hubChannel)
	}
	if len(ack.Payload.Rejected) != 1 || ack.Payload.Rejected[0] != unknown {
		t.Errorf("rejected = %v, want [%s]", ack.Payload.Rejected, unknown)
	}

	var snap struct {
		Type      string              `json:"type"`
		EventType string              `json:"event_type"`
		Payload   protector.HubStatus `json:"payload"`
	}
	if err := ws.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != WSTypeEvent || snap.EventType != hubChannel {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Payload.Reconnects != 3 || snap.Payload.MappedDoors != 2 {
		t.Errorf("snapshot payload = %+v", snap.Payload)
	}
}

func TestHub_IndexesByChannel(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.New(config.LoggingConfig{Level: "error"}, "test"), nil)
	newClient := func(id string) *WSClient {
		return &WSClient{id: id, hub: hub, send: make(chan []byte, 4), channels: make(map[string]struct{})}
	}
	a, b := newClient("a"), newClient("b")
	hub.Register(a)
	hub.Register(b)

	hub.subscribe(a, []string{"x", "y"})
	hub.subscribe(b, []string{"y"})
	if hub.Subscribers("x") != 1 || hub.Subscribers("y") != 2 {
		t.Fatalf("subscribers x=%d y=%d, want 1 and 2", hub.Subscribers("x"), hub.Subscribers("y"))
	}

	hub.Broadcast("x", "only-a")
	if len(a.send) != 1 || len(b.send) != 0 {
		t.Errorf("queued a=%d b=%d, want 1 and 0", len(a.send), len(b.send))
	}

	if removed := hub.unsubscribe(a, []string{"x", "z"}); len(removed) != 1 || removed[0] != "x" {
		t.Errorf("unsubscribe removed = %v, want [x]", removed)
	}
	if hub.Subscribers("x") != 0 {
		t.Errorf("subscribers x = %d after unsubscribe", hub.Subscribers("x"))
	}

	hub.Unregister(b)
	hub.Unregister(b)
	if hub.Subscribers("y") != 1 || hub.ClientCount() != 1 {
		t.Errorf("after unregister: y=%d clients=%d", hub.Subscribers("y"), hub.ClientCount())
	}
	if _, ok := <-b.send; ok {
		t.Error("unregistered client send channel still open")
	}

	if _, rejected := hub.subscribe(b, []string{"y"}); len(rejected) != 1 {
		t.Errorf("subscribe after unregister rejected = %v", rejected)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	f := newAPIFixture(t, "")

	ws, _, err := dialWS(t, f, "")
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	f := newAPIFixture(t, testSecret)

	_, resp, err := dialWS(t, f, "")
	if err == nil {
		t.Fatal("expected error connecting without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestServer_StartClose(t *testing.T) {
	bus := dispatch.NewBus()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:    logging.New(config.LoggingConfig{Level: "error"}, "test"),
		Bus:       bus,
		Instances: []Instance{&fakeInstance{id: "site-a"}},
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start error = nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if n := bus.SubscriberCount(dispatch.Channels{}.DoorStatus("site-a")); n != 2 {
		t.Errorf("door status subscribers = %d, want store and relay", n)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if n := bus.SubscriberCount(dispatch.Channels{}.DoorStatus("site-a")); n != 0 {
		t.Errorf("subscribers after Close = %d, want 0", n)
	}
}

func TestParseToken(t *testing.T) {
	if _, err := parseToken(signToken(t, testSecret, "ops", time.Hour), testSecret); err != nil {
		t.Errorf("parseToken(valid) error = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}
	if _, err := parseToken(raw, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("parseToken(alg none) error = %v, want ErrTokenInvalid", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	if _, err := parseToken(noExp, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("parseToken(no exp) error = %v, want ErrTokenInvalid", err)
	}
}
