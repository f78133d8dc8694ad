// Package metrics exposes bridge counters in Prometheus format.
//
// A Registry owns a private prometheus.Registry carrying the Go runtime and
// process collectors plus the bridge metrics under the "protector"
// namespace. It satisfies protector.Metrics, so supervisors record into it
// directly, and Handler serves the exposition for the observer API.
//
// Every bridge series is labelled by instance so one process can bridge
// several vendor systems.
package metrics
