// Package protectorapi is the request/response client for a Protector.Net
// system's web API.
//
// It supplies everything the hub supervisor needs besides the socket
// itself: the partition door allowlist, the system overview tree, the
// partition reader list, and connection tokens from the hub negotiate
// endpoint. *Client satisfies both protector.Directory and
// protector.Negotiator.
//
// # Session Handling
//
// Every request carries the ss-id session cookie. When the instance is
// configured with credentials, a missing cookie triggers a login before the
// first call, and a 401 triggers one login and one retry. Without
// credentials a 401 is returned as ErrUnauthorized.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Concurrent 401s share a single
// login.
package protectorapi
