// Package protector implements the real-time door event bridge for an
// access-control appliance's notification hub.
//
// The appliance pushes controller status records and access notifications
// over a SignalR-style JSON WebSocket. This package keeps one connection per
// configured instance alive, maps raw records onto the doors of one partition,
// and publishes normalised events on the dispatch bus.
//
// # Architecture
//
//	┌─────────────┐  WebSocket   ┌──────────────┐   bus   ┌──────────────┐
//	│  Appliance  │─────────────►│  Supervisor  │────────►│  Forwarder   │──► MQTT
//	│     hub     │◄─────────────│  Classifier  │         │  API relay   │──► WebSocket
//	└─────────────┘  subscribe   └──────────────┘         └──────────────┘
//	       ▲                            │
//	       └──── REST (doors, readers, topology, negotiate)
//
// # Key Responsibilities
//
//   - Negotiate a connection token and dial the hub (Supervisor)
//   - Frame and decode hub records (DecodeFrames, EncodeInvocation)
//   - Build the partition's door map from the topology tree (Mapper)
//   - Classify status records and notifications into door events (Classifier)
//   - Synthesize door status from notification text (rules.go)
//   - Reconnect with capped exponential backoff and jitter (Backoff)
//   - Republish events and bridge health over MQTT (Forwarder, HealthReporter)
//   - Feed optimistic echoes from MQTT back onto the bus (EchoBridge)
//
// # Partition Scoping
//
// Only doors returned by the partition door listing are mapped. Records for
// any other door are dropped before publishing.
//
// # Thread Safety
//
// Supervisor, Forwarder and HealthReporter are safe for concurrent use. The
// Classifier is driven by a single read loop and is not.
package protector
