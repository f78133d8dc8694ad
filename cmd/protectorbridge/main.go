// Protector Bridge - live door status for access control systems
//
// This is the main entry point for the protector bridge. For each configured
// instance it keeps a hub connection to the vendor system, turns door
// notifications into status and log events, and makes them available on:
//   - the in-process dispatch bus
//   - MQTT topics under protector/{instance}/
//   - the observer HTTP API and WebSocket relay
//   - Prometheus metrics at /metrics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-protector/internal/api"
	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-protector/internal/protectorapi"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting protector bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "instances", len(cfg.Instances))

	log = logging.New(cfg.Logging, version)

	bus := dispatch.NewBus()
	bus.SetLogger(log.With("component", "dispatch"))

	registry := metrics.NewRegistry()
	if regErr := registry.RegisterBus(bus.Stats); regErr != nil {
		return fmt.Errorf("registering bus metrics: %w", regErr)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		if regErr := registry.RegisterBroker(mqttClient.Stats); regErr != nil {
			return fmt.Errorf("registering broker metrics: %w", regErr)
		}
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	supervisors := make([]*protector.Supervisor, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		sup, supErr := newSupervisor(cfg, inst, bus, registry, log)
		if supErr != nil {
			return fmt.Errorf("instance %s: %w", inst.ID, supErr)
		}
		supervisors = append(supervisors, sup)

		if mqttClient != nil {
			stop, mqttErr := startMQTTBridges(cfg, sup, bus, mqttClient, registry, log)
			if mqttErr != nil {
				return fmt.Errorf("instance %s: %w", inst.ID, mqttErr)
			}
			defer stop()
		}
	}

	// Health reporting on MQTT
	if mqttClient != nil {
		sources := make([]protector.StatusSource, 0, len(supervisors))
		for _, sup := range supervisors {
			sources = append(sources, sup)
		}
		health := protector.NewHealthReporter(protector.HealthReporterConfig{
			Version:   version,
			Interval:  cfg.Hub.HealthInterval,
			Publisher: mqttClient,
			Sources:   sources,
		})
		health.SetLogger(log.With("component", "health"))
		if pubErr := health.PublishStarting(); pubErr != nil {
			log.Warn("publishing starting status failed", "error", pubErr)
		}
		health.Start(ctx)
		defer func() {
			log.Info("stopping health reporter")
			health.Stop()
		}()
	}

	// Observer API
	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, bus, supervisors, mqttClient, registry, log)
		if apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Hub connections last, so every consumer is subscribed before the first event.
	for _, sup := range supervisors {
		sup.Start(ctx)
		defer func() {
			log.Info("stopping hub connection", "instance", sup.InstanceID())
			sup.Stop()
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Hub connections
	// 2. API server
	// 3. Health reporter
	// 4. MQTT forwarders and echo bridges
	// 5. MQTT

	log.Info("protector bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PROTECTOR_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PROTECTOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newSupervisor builds the vendor client and hub supervisor for one instance.
//
// Parameters:
//   - cfg: Application configuration
//   - inst: The instance to bridge
//   - bus: Destination for hub and door events
//   - registry: Metrics sink
//   - log: Root logger
//
// Returns:
//   - *protector.Supervisor: Ready to start
//   - error: If the instance settings are rejected
func newSupervisor(cfg *config.Config, inst config.InstanceConfig, bus *dispatch.Bus, registry *metrics.Registry, log *logging.Logger) (*protector.Supervisor, error) {
	client, err := protectorapi.NewClient(protectorapi.Config{
		BaseURL:       inst.BaseURL,
		Username:      inst.Username,
		Password:      inst.Password,
		SessionCookie: inst.SessionCookie,
		PartitionID:   inst.PartitionID,
		VerifySSL:     inst.VerifySSL,
		Timeout:       cfg.Hub.RequestTimeout,
		Logger:        log.ForInstance(inst.ID, "protectorapi"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating vendor client: %w", err)
	}

	sup, err := protector.NewSupervisor(protector.SupervisorOptions{
		InstanceID: inst.ID,
		BaseURL:    inst.BaseURL,
		VerifySSL:  inst.VerifySSL,
		Directory:  client,
		Negotiator: client,
		Publisher:  bus,
		Backoff: protector.BackoffConfig{
			Base:   cfg.Hub.ReconnectBase,
			Max:    cfg.Hub.ReconnectMax,
			Jitter: cfg.Hub.ReconnectJitter,
		},
		ReadTimeout:       cfg.Hub.ReadTimeout,
		KeepaliveInterval: cfg.Hub.KeepaliveInterval,
		ShutdownTimeout:   cfg.Hub.ShutdownTimeout,
		RebuildInterval:   cfg.Hub.RebuildInterval,
		RecencyWindow:     cfg.Hub.RecencyWindow,
		Metrics:           registry,
		Logger:            log.ForInstance(inst.ID, "hub"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating supervisor: %w", err)
	}

	log.Info("instance configured", "instance", inst.String())
	return sup, nil
}

// startMQTTBridges wires one instance's bus channels to MQTT and its echo
// topics back to the bus.
//
// Returns:
//   - func(): Stops both directions
//   - error: If the echo subscription or metric registration fails
func startMQTTBridges(cfg *config.Config, sup *protector.Supervisor, bus *dispatch.Bus, client *mqtt.Client, registry *metrics.Registry, log *logging.Logger) (func(), error) {
	instanceID := sup.InstanceID()

	fwd := protector.NewForwarder(protector.ForwarderOptions{
		InstanceID: instanceID,
		Bus:        bus,
		Client:     client,
		QoS:        byte(cfg.MQTT.QoS),
		Logger:     log.ForInstance(instanceID, "forwarder"),
	})
	if err := registry.RegisterForwarder(instanceID, fwd.Forwarded, fwd.Skipped); err != nil {
		return nil, fmt.Errorf("registering forwarder metrics: %w", err)
	}
	fwd.Start()

	echo := protector.NewEchoBridge(protector.EchoBridgeOptions{
		InstanceID: instanceID,
		Client:     client,
		Publisher:  bus,
		Doors:      sup.Doors,
		Logger:     log.ForInstance(instanceID, "echo"),
	})
	if err := echo.Start(); err != nil {
		fwd.Stop()
		return nil, fmt.Errorf("starting echo bridge: %w", err)
	}

	return func() {
		if err := echo.Stop(); err != nil {
			log.Warn("error stopping echo bridge", "instance", instanceID, "error", err)
		}
		fwd.Stop()
	}, nil
}

// startAPI creates and starts the observer HTTP server.
func startAPI(ctx context.Context, cfg *config.Config, bus *dispatch.Bus, supervisors []*protector.Supervisor, mqttClient *mqtt.Client, registry *metrics.Registry, log *logging.Logger) (*api.Server, error) {
	instances := make([]api.Instance, 0, len(supervisors))
	for _, sup := range supervisors {
		instances = append(instances, sup)
	}

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Bus:       bus,
		Instances: instances,
		Metrics:   registry.Handler(),
		Version:   version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}
