package protector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is how often bridge health is published.
const DefaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

// Bridge health states.
const (
	// HealthHealthy means the broker and every hub connection are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the broker or at least one hub is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once during initialisation.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published once during shutdown.
	HealthStopping HealthStatus = "stopping"
)

// StatusSource exposes one instance's hub snapshot. *Supervisor satisfies it.
type StatusSource interface {
	InstanceID() string
	Status() HubStatus
}

// InstanceHealth is the per-instance part of a HealthMessage.
type InstanceHealth struct {
	ID          string     `json:"id"`
	Phase       Phase      `json:"phase"`
	Connected   bool       `json:"connected"`
	MappedDoors int        `json:"mapped_doors"`
	Reconnects  uint64     `json:"reconnects"`
	LastEventAt *time.Time `json:"last_event_ts,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// HealthMessage is published on the bridge health topic.
type HealthMessage struct {
	Status    HealthStatus     `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Version   string           `json:"version"`
	Uptime    int64            `json:"uptime_seconds"`
	Instances []InstanceHealth `json:"instances"`
	Timestamp time.Time        `json:"timestamp"`
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher MQTTPublisher

	// Sources provide the hub snapshots, one per instance.
	Sources []StatusSource
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher MQTTPublisher
	sources   []StatusSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		sources:   cfg.Sources,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Snapshot builds the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	down := 0
	for _, src := range h.sources {
		if src.Status().Phase != PhaseRunning {
			down++
		}
	}
	if down > 0 {
		return HealthDegraded, fmt.Sprintf("%d of %d hubs not running", down, len(h.sources))
	}

	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	now := time.Now()
	msg := HealthMessage{
		Status:    status,
		Reason:    reason,
		Version:   h.version,
		Uptime:    int64(now.Sub(h.startTime).Seconds()),
		Instances: make([]InstanceHealth, 0, len(h.sources)),
		Timestamp: now.UTC(),
	}
	for _, src := range h.sources {
		hub := src.Status()
		msg.Instances = append(msg.Instances, InstanceHealth{
			ID:          src.InstanceID(),
			Phase:       hub.Phase,
			Connected:   hub.Connected,
			MappedDoors: hub.MappedDoors,
			Reconnects:  hub.Reconnects,
			LastEventAt: hub.LastEventAt,
			LastError:   hub.LastError,
		})
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(mqtt.Topics{}.BridgeHealth(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
