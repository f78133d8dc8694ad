package dispatch

import (
	"errors"
	"sync"
	"testing"
)

// recordingLogger captures warn/error calls.
type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int

	for i := 1; i <= 3; i++ {
		n := i
		bus.Subscribe("ch", func(any) error {
			order = append(order, n)
			return nil
		})
	}

	bus.Publish("ch", "x")

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestBus_ChannelIsolation(t *testing.T) {
	bus := NewBus()
	ch := Channels{}
	var gotA, gotB int

	bus.Subscribe(ch.DoorStatus("a"), func(any) error { gotA++; return nil })
	bus.Subscribe(ch.DoorStatus("b"), func(any) error { gotB++; return nil })

	bus.Publish(ch.DoorStatus("a"), 1)
	bus.Publish(ch.DoorStatus("a"), 2)

	if gotA != 2 {
		t.Errorf("instance a received %d events, want 2", gotA)
	}
	if gotB != 0 {
		t.Errorf("instance b received %d events, want 0", gotB)
	}
}

func TestBus_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	logger := &recordingLogger{}
	bus.SetLogger(logger)

	var delivered []string
	bus.Subscribe("ch", func(any) error { return errors.New("boom") })
	bus.Subscribe("ch", func(any) error { panic("handler exploded") })
	bus.Subscribe("ch", func(p any) error {
		delivered = append(delivered, p.(string))
		return nil
	})

	bus.Publish("ch", "event")

	if len(delivered) != 1 || delivered[0] != "event" {
		t.Errorf("last handler received %v, want [event]", delivered)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warn count = %d, want 1", len(logger.warns))
	}
	if len(logger.errors) != 1 {
		t.Errorf("error count = %d, want 1", len(logger.errors))
	}
	if got := bus.Stats().HandlerFailures; got != 2 {
		t.Errorf("HandlerFailures = %d, want 2", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe("ch", func(any) error { count++; return nil })

	bus.Publish("ch", nil)
	unsubscribe()
	unsubscribe() // idempotent
	bus.Publish("ch", nil)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if n := bus.SubscriberCount("ch"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBus_UnsubscribeDuringDelivery(t *testing.T) {
	bus := NewBus()
	var secondCalls int
	var unsubscribeSecond func()

	bus.Subscribe("ch", func(any) error {
		unsubscribeSecond()
		return nil
	})
	unsubscribeSecond = bus.Subscribe("ch", func(any) error {
		secondCalls++
		return nil
	})

	bus.Publish("ch", nil)

	if secondCalls != 0 {
		t.Errorf("handler removed mid-delivery was called %d times, want 0", secondCalls)
	}
}

func TestBus_SubscribeDuringDelivery(t *testing.T) {
	bus := NewBus()
	var lateCalls int

	bus.Subscribe("ch", func(any) error {
		bus.Subscribe("ch", func(any) error {
			lateCalls++
			return nil
		})
		return nil
	})

	bus.Publish("ch", nil)
	if lateCalls != 0 {
		t.Errorf("handler added mid-delivery got the in-flight event")
	}

	bus.Publish("ch", nil)
	if lateCalls != 1 {
		t.Errorf("lateCalls = %d, want 1 after second publish", lateCalls)
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish("nobody", struct{}{})

	if got := bus.Stats().Published; got != 1 {
		t.Errorf("Published = %d, want 1", got)
	}
}

func TestChannels(t *testing.T) {
	ch := Channels{}
	tests := []struct {
		got  string
		want string
	}{
		{ch.HubStatus("site-a"), "protector.site-a.hub"},
		{ch.DoorStatus("site-a"), "protector.site-a.door_status"},
		{ch.DoorLog("site-a"), "protector.site-a.door_log"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("channel = %q, want %q", tt.got, tt.want)
		}
	}
	if n := len(ch.All("x")); n != 3 {
		t.Errorf("All() returned %d channels, want 3", n)
	}
}
