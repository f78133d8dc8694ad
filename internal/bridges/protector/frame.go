package protector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RecordSeparator terminates every JSON message on the hub connection.
const RecordSeparator byte = 0x1e

// MessageType is the hub protocol message discriminator.
type MessageType int

// Hub protocol message types.
const (
	MessageInvocation       MessageType = 1
	MessageStreamItem       MessageType = 2
	MessageCompletion       MessageType = 3
	MessageStreamInvocation MessageType = 4
	MessageCancelInvocation MessageType = 5
	MessagePing             MessageType = 6
	MessageClose            MessageType = 7
)

// Invocation targets used by the hub.
const (
	TargetStatus       = "status"
	TargetNotification = "notification"
	TargetInit         = "Init"
	TargetSubscribe    = "subscribeToStatus"
)

// StatusTypeDoor is the statusType carried by door status frames.
const StatusTypeDoor = "Door"

// handshakeRequest is the capability descriptor sent first on every connection.
var handshakeRequest = []byte(`{"protocol":"json","version":1}`)

// Frame is a decoded hub message. The concrete types are StatusFrame,
// NotificationFrame, InvocationFrame, CompletionFrame, PingFrame, CloseFrame,
// HandshakeResponse and UnknownFrame.
type Frame interface {
	kind() string
}

// StatusFrame is a structured status push (target "status").
type StatusFrame struct {
	StatusType string
	StatusID   string
	Strike     *bool
	Opener     *bool
	Overridden *bool
	TimeZone   *int
}

// DoorStatus returns the door fields the frame carries.
func (f StatusFrame) DoorStatus() DoorStatus {
	return DoorStatus{
		Strike:     f.Strike,
		Opener:     f.Opener,
		Overridden: f.Overridden,
		TimeZone:   f.TimeZone,
	}
}

// Notification is one free-text event inside a notification frame.
type Notification struct {
	Message          string          `json:"Message"`
	NotificationType string          `json:"NotificationType"`
	SourceType       string          `json:"SourceType"`
	SourceName       string          `json:"SourceName"`
	SourceID         OptionalInt     `json:"SourceId"`
	Date             string          `json:"Date"`
	PartitionID      OptionalInt     `json:"PartitionId"`
	UserID           OptionalInt     `json:"UserId"`
	Link             string          `json:"Link"`
	StateValues      json.RawMessage `json:"StateValues,omitempty"`

	// Raw is the notification object as received.
	Raw json.RawMessage `json:"-"`
}

// NotificationFrame carries one or more notifications (target "notification").
type NotificationFrame struct {
	Notifications []Notification
}

// InvocationFrame is an invocation for a target this package does not model.
type InvocationFrame struct {
	Target       string
	Arguments    []json.RawMessage
	InvocationID string
}

// CompletionFrame answers an invocation sent by the client.
type CompletionFrame struct {
	InvocationID string
	Result       json.RawMessage
	Error        string
}

// PingFrame is a protocol keep-alive.
type PingFrame struct{}

// CloseFrame is sent by the server before it drops the connection.
type CloseFrame struct {
	Error          string
	AllowReconnect bool
}

// HandshakeResponse is the type-less reply to the handshake request.
type HandshakeResponse struct {
	Error string
}

// UnknownFrame is any other typed message (stream items, cancellations).
type UnknownFrame struct {
	Type MessageType
}

func (StatusFrame) kind() string       { return "status" }
func (NotificationFrame) kind() string { return "notification" }
func (InvocationFrame) kind() string   { return "invocation" }
func (CompletionFrame) kind() string   { return "completion" }
func (PingFrame) kind() string         { return "ping" }
func (CloseFrame) kind() string        { return "close" }
func (HandshakeResponse) kind() string { return "handshake" }
func (UnknownFrame) kind() string      { return "unknown" }

// FrameKind returns a short label for metrics and logs.
func FrameKind(f Frame) string {
	if f == nil {
		return "none"
	}
	return f.kind()
}

// envelope is the superset of fields across hub messages.
type envelope struct {
	Type           *MessageType      `json:"type"`
	Target         string            `json:"target"`
	Arguments      []json.RawMessage `json:"arguments"`
	InvocationID   string            `json:"invocationId"`
	Result         json.RawMessage   `json:"result"`
	Error          string            `json:"error"`
	AllowReconnect bool              `json:"allowReconnect"`
}

// statusArgument is the first argument of a status invocation.
type statusArgument struct {
	StatusType string      `json:"statusType"`
	StatusID   string      `json:"statusId"`
	Strike     *bool       `json:"strike"`
	Opener     *bool       `json:"opener"`
	Overridden *bool       `json:"overridden"`
	TimeZone   OptionalInt `json:"timeZone"`
}

// SplitRecords splits a payload on the record separator and drops empty
// fragments.
func SplitRecords(payload []byte) [][]byte {
	parts := bytes.Split(payload, []byte{RecordSeparator})
	records := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) == 0 {
			continue
		}
		records = append(records, p)
	}
	return records
}

// DecodeFrames decodes every record in payload. Records that cannot be
// decoded are reported in the error slice and skipped; decoding continues
// with the next record.
func DecodeFrames(payload []byte) ([]Frame, []error) {
	records := SplitRecords(payload)
	frames := make([]Frame, 0, len(records))
	var errs []error

	for _, rec := range records {
		f, err := DecodeFrame(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, f)
	}
	return frames, errs
}

// DecodeFrame decodes a single record (without separator).
func DecodeFrame(record []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(record, &env); err != nil {
		return nil, fmt.Errorf("%w: %w (len=%d)", ErrMalformedFrame, err, len(record))
	}

	if env.Type == nil {
		return HandshakeResponse{Error: env.Error}, nil
	}

	switch *env.Type {
	case MessageInvocation:
		return decodeInvocation(env)
	case MessageCompletion:
		return CompletionFrame{InvocationID: env.InvocationID, Result: env.Result, Error: env.Error}, nil
	case MessagePing:
		return PingFrame{}, nil
	case MessageClose:
		return CloseFrame{Error: env.Error, AllowReconnect: env.AllowReconnect}, nil
	default:
		return UnknownFrame{Type: *env.Type}, nil
	}
}

func decodeInvocation(env envelope) (Frame, error) {
	switch env.Target {
	case TargetStatus:
		if len(env.Arguments) == 0 {
			return nil, fmt.Errorf("%w: status without arguments", ErrEmptyArguments)
		}
		var arg statusArgument
		if err := json.Unmarshal(env.Arguments[0], &arg); err != nil {
			return nil, fmt.Errorf("%w: status argument: %w", ErrMalformedFrame, err)
		}
		return StatusFrame{
			StatusType: arg.StatusType,
			StatusID:   arg.StatusID,
			Strike:     arg.Strike,
			Opener:     arg.Opener,
			Overridden: arg.Overridden,
			TimeZone:   arg.TimeZone.Ptr(),
		}, nil

	case TargetNotification:
		if len(env.Arguments) == 0 {
			return nil, fmt.Errorf("%w: notification without arguments", ErrEmptyArguments)
		}
		return NotificationFrame{Notifications: decodeNotifications(env.Arguments)}, nil

	default:
		return InvocationFrame{
			Target:       env.Target,
			Arguments:    env.Arguments,
			InvocationID: env.InvocationID,
		}, nil
	}
}

// decodeNotifications accepts the three argument layouts the hub uses: a list
// of objects as the first argument, a single object as the first argument, or
// several object arguments. Non-object entries are ignored.
func decodeNotifications(args []json.RawMessage) []Notification {
	first := bytes.TrimSpace(args[0])

	var raws []json.RawMessage
	switch {
	case len(first) > 0 && first[0] == '[':
		if err := json.Unmarshal(first, &raws); err != nil {
			return nil
		}
	case len(first) > 0 && first[0] == '{':
		raws = []json.RawMessage{first}
	default:
		raws = args
	}

	notes := make([]Notification, 0, len(raws))
	for _, raw := range raws {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		n.Raw = append(json.RawMessage(nil), raw...)
		notes = append(notes, n)
	}
	return notes
}

// EncodeHandshake returns the protocol negotiation record.
func EncodeHandshake() []byte {
	return appendSeparator(handshakeRequest)
}

// invocationMessage is the wire shape of an outgoing invocation.
type invocationMessage struct {
	Type         MessageType `json:"type"`
	Target       string      `json:"target"`
	Arguments    []any       `json:"arguments"`
	InvocationID string      `json:"invocationId"`
	StreamIDs    []string    `json:"streamIds"`
}

// EncodeInvocation returns an invocation record for target.
func EncodeInvocation(target string, args []any, invocationID string) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(invocationMessage{
		Type:         MessageInvocation,
		Target:       target,
		Arguments:    args,
		InvocationID: invocationID,
		StreamIDs:    []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s invocation: %w", target, err)
	}
	return appendSeparator(data), nil
}

// EncodePing returns a keep-alive record.
func EncodePing() []byte {
	return appendSeparator([]byte(`{"type":6}`))
}

func appendSeparator(b []byte) []byte {
	out := make([]byte, 0, len(b)+1)
	out = append(out, b...)
	return append(out, RecordSeparator)
}

// OptionalInt is an integer field that may be absent, null, or sent as a
// numeric string. Any other value decodes as absent.
type OptionalInt struct {
	Value int
	Valid bool
}

// IntValue returns a present OptionalInt.
func IntValue(v int) OptionalInt {
	return OptionalInt{Value: v, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	*o = OptionalInt{}

	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(unquoted)
	}
	if v, err := strconv.Atoi(s); err == nil {
		o.Value, o.Valid = v, true
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		o.Value, o.Valid = int(f), true
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(o.Value)), nil
}

// Ptr returns a pointer to the value, or nil when absent.
func (o OptionalInt) Ptr() *int {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}
