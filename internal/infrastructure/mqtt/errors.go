package mqtt

import "errors"

// Sentinel errors for broker operations. Callers match them with errors.Is;
// the broker's own reason is wrapped alongside.
var (
	// ErrNotConnected means the broker session is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed means no session was established at startup.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects empty topics and filters.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
