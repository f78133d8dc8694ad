package protector

import "errors"

// Domain errors for the protector bridge package.
var (
	// ErrMalformedFrame is returned when a hub record is not valid JSON or
	// its arguments do not match the expected shape.
	ErrMalformedFrame = errors.New("protector: malformed frame")

	// ErrEmptyArguments is returned for a status or notification invocation
	// without arguments.
	ErrEmptyArguments = errors.New("protector: invocation without arguments")

	// ErrNegotiateFailed is returned when the connection token cannot be
	// obtained.
	ErrNegotiateFailed = errors.New("protector: negotiate failed")

	// ErrConnectionFailed is returned when the hub connection cannot be
	// established.
	ErrConnectionFailed = errors.New("protector: connection to hub failed")

	// ErrConnectionLost is returned when an established connection fails
	// while reading or writing.
	ErrConnectionLost = errors.New("protector: connection to hub lost")

	// ErrHandshakeRejected is returned when the hub answers the handshake
	// with an error.
	ErrHandshakeRejected = errors.New("protector: handshake rejected")

	// ErrServerClosed is returned when the hub sends a close message.
	ErrServerClosed = errors.New("protector: hub closed the connection")

	// ErrInvalidBaseURL is returned when the instance base URL cannot be
	// turned into a hub URL.
	ErrInvalidBaseURL = errors.New("protector: invalid base url")

	// ErrUnexpectedPayload is returned by bus handlers that receive a payload
	// of the wrong type.
	ErrUnexpectedPayload = errors.New("protector: unexpected payload type")

	// ErrInvalidEcho is returned for an echo message that cannot be applied.
	ErrInvalidEcho = errors.New("protector: invalid door echo")
)
