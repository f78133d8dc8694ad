// Package api implements the observer HTTP API and WebSocket relay for the
// protector bridge.
//
// This package provides:
//   - REST endpoints for hub snapshots and the aggregated door view
//   - WebSocket relay of dispatch bus events
//   - Prometheus exposition at /metrics
//   - Optional HS256 bearer-token check on instance and socket routes
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server is read-only. Supervisors publish on the dispatch bus; the
// server keeps a door store fed from the door-status and door-log channels
// and relays every bus event to WebSocket clients subscribed to its channel.
//
// # Security
//
// When security.jwt.secret is empty the API is open, which suits a bridge
// bound to localhost. With a secret, /api/v1/instances and /api/v1/ws need a
// token in the Authorization header, or in the token query parameter for
// browsers that cannot set headers on a socket.
package api
