package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

// SystemMetrics is the JSON process summary at /api/v1/metrics. The full
// counter set is exposed in Prometheus format at /metrics.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          MQTTMetrics       `json:"mqtt"`
	Dispatch      DispatchMetrics   `json:"dispatch"`
	Instances     []InstanceMetrics `json:"instances"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled bool `json:"enabled"`
	mqtt.Stats
}

// DispatchMetrics contains dispatch bus counters.
type DispatchMetrics struct {
	Published       uint64 `json:"published"`
	HandlerFailures uint64 `json:"handler_failures"`
}

// InstanceMetrics summarises one hub connection.
type InstanceMetrics struct {
	ID             string          `json:"id"`
	Phase          protector.Phase `json:"phase"`
	Connected      bool            `json:"connected"`
	MappedDoors    int             `json:"mapped_doors"`
	Reconnects     uint64          `json:"reconnects"`
	DoorEventsSeen uint64          `json:"door_events_seen"`
}

// handleMetrics returns the process summary.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	busStats := s.bus.Stats()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Dispatch: DispatchMetrics{
			Published:       busStats.Published,
			HandlerFailures: busStats.HandlerFailures,
		},
		Instances: make([]InstanceMetrics, 0, len(s.order)),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Stats: s.mqtt.Stats()}
	}

	for _, id := range s.order {
		hub := s.instances[id].Status()
		metrics.Instances = append(metrics.Instances, InstanceMetrics{
			ID:             id,
			Phase:          hub.Phase,
			Connected:      hub.Connected,
			MappedDoors:    hub.MappedDoors,
			Reconnects:     hub.Reconnects,
			DoorEventsSeen: hub.DoorEventsSeen,
		})
	}

	writeJSON(w, http.StatusOK, metrics)
}
