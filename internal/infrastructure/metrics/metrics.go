package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

const namespace = "protector"

var _ protector.Metrics = (*Registry)(nil)

// phases lists every hub phase so the phase gauge can be one-hot.
var phases = []protector.Phase{
	protector.PhaseIdle,
	protector.PhaseStarting,
	protector.PhaseConnecting,
	protector.PhaseHandshake,
	protector.PhaseRunning,
	protector.PhaseError,
	protector.PhaseStopped,
}

// Registry holds the bridge collectors.
type Registry struct {
	registry *prometheus.Registry

	framesDecoded   *prometheus.CounterVec
	framesMalformed *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	hubPhase        *prometheus.GaugeVec
	mappedDoors     *prometheus.GaugeVec
}

// NewRegistry creates a Registry with runtime collectors and bridge metrics
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		framesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "frames_decoded_total",
				Help:      "Hub frames decoded, by frame kind",
			},
			[]string{"instance", "kind"},
		),

		framesMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "frames_malformed_total",
				Help:      "Hub records that failed to decode",
			},
			[]string{"instance"},
		),

		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Events published on the dispatch bus, by kind",
			},
			[]string{"instance", "kind"},
		),

		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "connect_attempts_total",
				Help:      "Hub connection attempts",
			},
			[]string{"instance"},
		),

		hubPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "phase",
				Help:      "Current hub phase (1 for the active phase, 0 otherwise)",
			},
			[]string{"instance", "phase"},
		),

		mappedDoors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "topology",
				Name:      "mapped_doors",
				Help:      "Doors in the current door map",
			},
			[]string{"instance"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.framesDecoded,
		r.framesMalformed,
		r.eventsPublished,
		r.connectAttempts,
		r.hubPhase,
		r.mappedDoors,
	)

	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics exposition.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// FrameDecoded counts one decoded hub frame.
func (r *Registry) FrameDecoded(instanceID, kind string) {
	r.framesDecoded.WithLabelValues(instanceID, kind).Inc()
}

// FrameMalformed counts one hub record that failed to decode.
func (r *Registry) FrameMalformed(instanceID string) {
	r.framesMalformed.WithLabelValues(instanceID).Inc()
}

// EventPublished counts one bus event.
func (r *Registry) EventPublished(instanceID, kind string) {
	r.eventsPublished.WithLabelValues(instanceID, kind).Inc()
}

// ConnectAttempt counts one hub connection attempt.
func (r *Registry) ConnectAttempt(instanceID string) {
	r.connectAttempts.WithLabelValues(instanceID).Inc()
}

// PhaseChanged sets the phase gauge so only the given phase reads 1.
func (r *Registry) PhaseChanged(instanceID, phase string) {
	for _, p := range phases {
		v := 0.0
		if string(p) == phase {
			v = 1
		}
		r.hubPhase.WithLabelValues(instanceID, string(p)).Set(v)
	}
}

// MappedDoors records the size of the current door map.
func (r *Registry) MappedDoors(instanceID string, count int) {
	r.mappedDoors.WithLabelValues(instanceID).Set(float64(count))
}

// RegisterBus exposes dispatch bus counters read at scrape time.
func (r *Registry) RegisterBus(stats func() dispatch.Stats) error {
	published := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "published_total",
			Help:      "Payloads published on the dispatch bus",
		},
		func() float64 { return float64(stats().Published) },
	)
	failures := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_failures_total",
			Help:      "Dispatch handlers that returned an error or panicked",
		},
		func() float64 { return float64(stats().HandlerFailures) },
	)

	if err := r.registry.Register(published); err != nil {
		return err
	}
	return r.registry.Register(failures)
}

// RegisterForwarder exposes MQTT forwarder counters for one instance.
func (r *Registry) RegisterForwarder(instanceID string, forwarded, skipped func() uint64) error {
	labels := prometheus.Labels{"instance": instanceID}
	collectorsToAdd := []prometheus.Collector{
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "mqtt",
				Name:        "forwarded_total",
				Help:        "Messages handed to the MQTT broker",
				ConstLabels: labels,
			},
			func() float64 { return float64(forwarded()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "mqtt",
				Name:        "skipped_total",
				Help:        "Messages dropped while the broker was unreachable",
				ConstLabels: labels,
			},
			func() float64 { return float64(skipped()) },
		),
	}
	for _, c := range collectorsToAdd {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBroker exposes the MQTT connection state read at scrape time.
func (r *Registry) RegisterBroker(stats func() mqtt.Stats) error {
	counter := func(name, help string, value func(mqtt.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "broker", Name: name, Help: help},
			func() float64 { return float64(value(stats())) },
		)
	}
	connected := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while a broker session is established",
		},
		func() float64 {
			if stats().Connected {
				return 1
			}
			return 0
		},
	)

	for _, c := range []prometheus.Collector{
		connected,
		counter("connects_total", "Broker sessions established, including reconnects",
			func(s mqtt.Stats) uint64 { return s.Connects }),
		counter("connection_losses_total", "Broker sessions lost",
			func(s mqtt.Stats) uint64 { return s.ConnectionLosses }),
		counter("handler_failures_total", "Inbound message handlers that failed or panicked",
			func(s mqtt.Stats) uint64 { return s.HandlerFailures }),
	} {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
