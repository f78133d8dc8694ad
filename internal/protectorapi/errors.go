package protectorapi

import "errors"

// Sentinel errors for vendor API calls.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, protectorapi.ErrUnauthorized) {
//	    // Session rejected and no credentials to log in again
//	}
var (
	// ErrInvalidConfig indicates the client configuration is unusable.
	ErrInvalidConfig = errors.New("protectorapi: invalid configuration")

	// ErrRequestFailed indicates a transport error or unexpected status.
	ErrRequestFailed = errors.New("protectorapi: request failed")

	// ErrUnauthorized indicates the session was rejected and could not be renewed.
	ErrUnauthorized = errors.New("protectorapi: unauthorized")

	// ErrLoginFailed indicates POST /auth did not produce a session.
	ErrLoginFailed = errors.New("protectorapi: login failed")

	// ErrDecodeFailed indicates a response body was not the expected JSON.
	ErrDecodeFailed = errors.New("protectorapi: decode failed")

	// ErrNegotiateFailed indicates the hub negotiate call returned no token.
	ErrNegotiateFailed = errors.New("protectorapi: negotiate failed")
)
