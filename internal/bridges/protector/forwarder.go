package protector

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

// MQTTPublisher is the subset of the MQTT client used for outbound messages.
// *mqtt.Client satisfies it.
type MQTTPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// BusSubscriber registers handlers on bus channels. *dispatch.Bus satisfies it.
type BusSubscriber interface {
	Subscribe(channel string, handler dispatch.Handler) func()
}

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	// InstanceID selects the bus channels and MQTT topics.
	InstanceID string

	// Bus is the source of door and hub events.
	Bus BusSubscriber

	// Client publishes to the broker.
	Client MQTTPublisher

	// QoS for every outbound message. Default: 1.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// Forwarder republishes one instance's bus events onto MQTT.
//
// Door status topics are retained and carry the merged state of the door, so
// a late subscriber sees every field last reported rather than only the most
// recent partial update. Hub snapshots are retained. Door log lines are not.
//
// Events arriving while the broker is unreachable are counted and dropped;
// the merged door state is still updated so the next publish is complete.
type Forwarder struct {
	instanceID string
	bus        BusSubscriber
	client     MQTTPublisher
	qos        byte
	logger     Logger
	topics     mqtt.Topics
	channels   dispatch.Channels

	// doorsMu is held across merge and publish so concurrent publishers
	// (hub loop, echo bridge) reach the broker in merge order.
	doors   map[int]DoorStatus
	doorsMu sync.Mutex

	unsubscribe []func()
	startMu     sync.Mutex

	forwarded atomic.Uint64
	skipped   atomic.Uint64
}

// NewForwarder creates a Forwarder. Call Start to begin forwarding.
func NewForwarder(opts ForwarderOptions) *Forwarder {
	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}
	return &Forwarder{
		instanceID: opts.InstanceID,
		bus:        opts.Bus,
		client:     opts.Client,
		qos:        qos,
		logger:     opts.Logger,
		doors:      make(map[int]DoorStatus),
	}
}

// Start subscribes to the instance's bus channels. Calling Start twice has
// no effect.
func (f *Forwarder) Start() {
	f.startMu.Lock()
	defer f.startMu.Unlock()
	if f.unsubscribe != nil || f.bus == nil {
		return
	}
	f.unsubscribe = []func(){
		f.bus.Subscribe(f.channels.DoorStatus(f.instanceID), f.onDoorStatus),
		f.bus.Subscribe(f.channels.DoorLog(f.instanceID), f.onDoorLog),
		f.bus.Subscribe(f.channels.HubStatus(f.instanceID), f.onHubStatus),
	}
}

// Stop removes the bus subscriptions.
func (f *Forwarder) Stop() {
	f.startMu.Lock()
	defer f.startMu.Unlock()
	for _, unsub := range f.unsubscribe {
		unsub()
	}
	f.unsubscribe = nil
}

// Forwarded returns the number of messages handed to the broker.
func (f *Forwarder) Forwarded() uint64 {
	return f.forwarded.Load()
}

// Skipped returns the number of events dropped while disconnected.
func (f *Forwarder) Skipped() uint64 {
	return f.skipped.Load()
}

func (f *Forwarder) onDoorStatus(payload any) error {
	evt, ok := payload.(DoorStatusEvent)
	if !ok {
		return fmt.Errorf("%w: %T on door status channel", ErrUnexpectedPayload, payload)
	}

	f.doorsMu.Lock()
	defer f.doorsMu.Unlock()

	merged := f.doors[evt.DoorID].Merge(evt.Status)
	f.doors[evt.DoorID] = merged

	evt.Status = merged
	return f.publish(f.topics.DoorStatus(f.instanceID, evt.DoorID), evt, true)
}

func (f *Forwarder) onDoorLog(payload any) error {
	evt, ok := payload.(DoorLogEvent)
	if !ok {
		return fmt.Errorf("%w: %T on door log channel", ErrUnexpectedPayload, payload)
	}
	return f.publish(f.topics.DoorLog(f.instanceID, evt.DoorID), evt, false)
}

func (f *Forwarder) onHubStatus(payload any) error {
	status, ok := payload.(HubStatus)
	if !ok {
		return fmt.Errorf("%w: %T on hub channel", ErrUnexpectedPayload, payload)
	}
	return f.publish(f.topics.Hub(f.instanceID), status, true)
}

func (f *Forwarder) publish(topic string, v any, retained bool) error {
	if f.client == nil || !f.client.IsConnected() {
		f.skipped.Add(1)
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	if err := f.client.Publish(topic, data, f.qos, retained); err != nil {
		f.logWarn("mqtt forward failed", "topic", topic, "error", err)
		return err
	}
	f.forwarded.Add(1)
	return nil
}

func (f *Forwarder) logWarn(msg string, keysAndValues ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, keysAndValues...)
	}
}
