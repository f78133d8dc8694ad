package protector

import (
	"encoding/json"
	"time"
)

// Payload types published on the dispatch bus. Every payload is a value type
// and is never mutated after publishing; recipients keep their own aggregate.

// DoorStatus is a partial door state. Nil fields are not carried by the
// update and must be left untouched by recipients.
type DoorStatus struct {
	Strike     *bool `json:"strike,omitempty"`
	Opener     *bool `json:"opener,omitempty"`
	Overridden *bool `json:"overridden,omitempty"`
	TimeZone   *int  `json:"timeZone,omitempty"`
}

// IsEmpty reports whether the update carries no field.
func (s DoorStatus) IsEmpty() bool {
	return s.Strike == nil && s.Opener == nil && s.Overridden == nil && s.TimeZone == nil
}

// Merge overlays the fields present in update onto s.
func (s DoorStatus) Merge(update DoorStatus) DoorStatus {
	if update.Strike != nil {
		s.Strike = update.Strike
	}
	if update.Opener != nil {
		s.Opener = update.Opener
	}
	if update.Overridden != nil {
		s.Overridden = update.Overridden
	}
	if update.TimeZone != nil {
		s.TimeZone = update.TimeZone
	}
	return s
}

// DoorStatusEvent is published on the door-status channel.
type DoorStatusEvent struct {
	DoorID      int        `json:"door_id"`
	DoorName    string     `json:"door_name,omitempty"`
	Status      DoorStatus `json:"status"`
	Synthesized bool       `json:"synthesized"`
	Timestamp   time.Time  `json:"timestamp"`
}

// LogSource describes where a notification originated.
type LogSource struct {
	Type string      `json:"type"`
	Name string      `json:"name"`
	ID   OptionalInt `json:"id"`
}

// DoorLogEvent is published on the door-log channel for every resolved,
// in-partition notification.
type DoorLogEvent struct {
	DoorID           int             `json:"door_id"`
	Log              string          `json:"log"`
	NotificationType string          `json:"notification_type"`
	Timestamp        string          `json:"timestamp"`
	Source           LogSource       `json:"source"`
	UserID           OptionalInt     `json:"user_id"`
	PartitionID      OptionalInt     `json:"partition_id"`
	State            json.RawMessage `json:"state,omitempty"`
	Link             string          `json:"link,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// Phase is the Supervisor connection phase.
type Phase string

// Connection phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseConnecting Phase = "connecting"
	PhaseHandshake  Phase = "handshake"
	PhaseRunning    Phase = "running"
	PhaseError      Phase = "error"
	PhaseStopped    Phase = "stopped"
)

// HubStatus is the connection snapshot published on the hub channel.
type HubStatus struct {
	InstanceID            string      `json:"instance_id"`
	Phase                 Phase       `json:"phase"`
	Connected             bool        `json:"connected"`
	LastError             string      `json:"last_error,omitempty"`
	LastEventAt           *time.Time  `json:"last_event_ts,omitempty"`
	LastConnectAt         *time.Time  `json:"last_connect_ts,omitempty"`
	MappedDoors           int         `json:"mapped_doors"`
	WSURL                 string      `json:"ws_url,omitempty"`
	ConnectionToken       string      `json:"connection_token,omitempty"`
	SubscribedControllers []string    `json:"subscribed_controllers"`
	DoorEventsSeen        uint64      `json:"door_events_seen"`
	NonDoorEventsSeen     uint64      `json:"non_door_events_seen"`
	LastStatusType        string      `json:"last_status_type,omitempty"`
	LastStatusID          string      `json:"last_status_id,omitempty"`
	LastDoorPayload       *DoorStatus `json:"last_door_payload,omitempty"`
	LastLogLine           string      `json:"last_log_line,omitempty"`
	Reconnects            uint64      `json:"reconnects"`
	Timestamp             time.Time   `json:"timestamp"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Publisher delivers payloads to observers. *dispatch.Bus satisfies it.
type Publisher interface {
	Publish(channel string, payload any)
}

// Metrics receives bridge counters. It is optional; nil disables recording.
type Metrics interface {
	FrameDecoded(instanceID, kind string)
	FrameMalformed(instanceID string)
	EventPublished(instanceID, kind string)
	ConnectAttempt(instanceID string)
	PhaseChanged(instanceID, phase string)
	MappedDoors(instanceID string, count int)
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }
