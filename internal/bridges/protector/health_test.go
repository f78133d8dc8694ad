package protector

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type staticSource struct {
	id     string
	status HubStatus
}

func (s staticSource) InstanceID() string { return s.id }
func (s staticSource) Status() HubStatus  { return s.status }

func decodeHealth(t *testing.T, msg mqttMessage) HealthMessage {
	t.Helper()
	var hm HealthMessage
	if err := json.Unmarshal(msg.payload, &hm); err != nil {
		t.Fatalf("health payload is not JSON: %v", err)
	}
	return hm
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	running := staticSource{id: "site-a", status: HubStatus{Phase: PhaseRunning, Connected: true}}
	backingOff := staticSource{id: "site-b", status: HubStatus{Phase: PhaseError, LastError: "dial refused"}}

	tests := []struct {
		name       string
		connected  bool
		sources    []StatusSource
		wantStatus HealthStatus
		wantReason string
	}{
		{"all running", true, []StatusSource{running}, HealthHealthy, ""},
		{"no instances", true, nil, HealthHealthy, ""},
		{"mqtt down", false, []StatusSource{running}, HealthDegraded, "MQTT disconnected"},
		{"hub down", true, []StatusSource{running, backingOff}, HealthDegraded, "1 of 2 hubs not running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthReporter(HealthReporterConfig{Publisher: newMockMQTT(tt.connected), Sources: tt.sources})
			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	seen := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	pub := newMockMQTT(true)
	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Publisher: pub,
		Sources: []StatusSource{staticSource{id: "site-a", status: HubStatus{
			Phase: PhaseRunning, Connected: true, MappedDoors: 4, Reconnects: 2, LastEventAt: &seen,
		}}},
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.getMessages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].topic != "protector/system/health" || msgs[0].qos != 1 || !msgs[0].retained {
		t.Errorf("message = %s qos=%d retained=%v", msgs[0].topic, msgs[0].qos, msgs[0].retained)
	}

	hm := decodeHealth(t, msgs[0])
	if hm.Status != HealthHealthy || hm.Version != "1.2.3" {
		t.Errorf("health = %+v", hm)
	}
	if len(hm.Instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(hm.Instances))
	}
	inst := hm.Instances[0]
	if inst.ID != "site-a" || inst.MappedDoors != 4 || inst.Reconnects != 2 || inst.LastEventAt == nil || !inst.LastEventAt.Equal(seen) {
		t.Errorf("instance = %+v", inst)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	pub := newMockMQTT(true)
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Interval: 10 * time.Millisecond})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.getMessages()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Stop()
	h.Stop()

	msgs := pub.getMessages()
	if len(msgs) < 3 {
		t.Fatalf("messages = %d, want starting plus periodic reports", len(msgs))
	}
	if first := decodeHealth(t, msgs[0]); first.Status != HealthStarting {
		t.Errorf("first status = %q, want starting", first.Status)
	}

	stopping := 0
	for _, m := range msgs {
		if decodeHealth(t, m).Status == HealthStopping {
			stopping++
		}
	}
	if stopping != 1 {
		t.Errorf("stopping published %d times, want 1", stopping)
	}
	if last := decodeHealth(t, msgs[len(msgs)-1]); last.Status != HealthStopping {
		t.Errorf("last status = %q, want stopping", last.Status)
	}
}

func TestHealthReporter_ContextCancel(t *testing.T) {
	pub := newMockMQTT(true)
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after context cancel")
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v, want nil without publisher", err)
	}
	if h.interval != DefaultHealthInterval {
		t.Errorf("interval = %v, want default", h.interval)
	}
	if snap := h.Snapshot(); snap.Status != HealthDegraded {
		t.Errorf("Snapshot().Status = %q, want degraded", snap.Status)
	}
}
