package protector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

// MQTTSubscriber is the subset of the MQTT client used for inbound echoes.
// *mqtt.Client satisfies it.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// EchoBridgeOptions configures an EchoBridge.
type EchoBridgeOptions struct {
	InstanceID string
	Client     MQTTSubscriber
	Publisher  Publisher

	// Doors returns the currently mapped doors. When set, echoes for doors
	// outside the map are rejected and published events carry the door name.
	Doors func() []Door

	// Now defaults to time.Now.
	Now func() time.Time

	Logger Logger
}

// EchoBridge feeds optimistic door status echoes from MQTT back into the
// dispatch bus.
//
// A presentation layer that has just commanded a door publishes the state it
// expects on protector/{instance}/door/{id}/echo, for example
// {"strike":true}. The bridge republishes it as a synthesized
// DoorStatusEvent so every observer converges before the hub confirms.
type EchoBridge struct {
	instanceID string
	client     MQTTSubscriber
	publisher  Publisher
	doors      func() []Door
	now        func() time.Time
	logger     Logger
	topic      string
}

// NewEchoBridge creates an EchoBridge.
func NewEchoBridge(opts EchoBridgeOptions) *EchoBridge {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &EchoBridge{
		instanceID: opts.InstanceID,
		client:     opts.Client,
		publisher:  opts.Publisher,
		doors:      opts.Doors,
		now:        now,
		logger:     opts.Logger,
		topic:      mqtt.Topics{}.AllDoorEchoes(opts.InstanceID),
	}
}

// Start subscribes to the instance's echo topics.
func (e *EchoBridge) Start() error {
	if err := e.client.Subscribe(e.topic, 1, e.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", e.topic, err)
	}
	return nil
}

// Stop removes the echo subscription.
func (e *EchoBridge) Stop() error {
	return e.client.Unsubscribe(e.topic)
}

// HandleMessage applies one echo message. It satisfies mqtt.MessageHandler.
func (e *EchoBridge) HandleMessage(topic string, payload []byte) error {
	parsed, ok := mqtt.ParseDoorTopic(topic)
	if !ok || parsed.Kind != mqtt.DoorKindEcho || parsed.InstanceID != e.instanceID {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidEcho, topic)
	}

	var status DoorStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEcho, err)
	}
	if status.IsEmpty() {
		return fmt.Errorf("%w: door %d echo carries no field", ErrInvalidEcho, parsed.DoorID)
	}

	name, known := e.lookup(parsed.DoorID)
	if !known {
		return fmt.Errorf("%w: door %d is not mapped", ErrInvalidEcho, parsed.DoorID)
	}

	e.publisher.Publish(dispatch.Channels{}.DoorStatus(e.instanceID), DoorStatusEvent{
		DoorID:      parsed.DoorID,
		DoorName:    name,
		Status:      status,
		Synthesized: true,
		Timestamp:   e.now(),
	})
	if e.logger != nil {
		e.logger.Debug("door echo applied", "door_id", parsed.DoorID)
	}
	return nil
}

func (e *EchoBridge) lookup(doorID int) (string, bool) {
	if e.doors == nil {
		return "", true
	}
	for _, d := range e.doors() {
		if d.ID == doorID {
			return d.Name, true
		}
	}
	return "", false
}
