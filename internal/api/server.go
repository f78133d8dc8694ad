package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Instance is the read side of one bridged system. *protector.Supervisor
// satisfies it.
type Instance interface {
	InstanceID() string
	Status() protector.HubStatus
	Doors() []protector.Door
}

// BrokerStatus reports broker connectivity. *mqtt.Client satisfies it.
type BrokerStatus interface {
	Stats() mqtt.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Bus       *dispatch.Bus
	Instances []Instance
	MQTT      BrokerStatus // optional
	Metrics   http.Handler // optional; served at /metrics
	Version   string
}

// Server is the observer HTTP server.
//
// It manages the HTTP listener, routes, middleware, door store and
// WebSocket hub. The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bus       *dispatch.Bus
	instances map[string]Instance
	order     []string
	mqtt      BrokerStatus
	metrics   http.Handler
	version   string
	startTime time.Time

	doors       *doorStore
	hub         *Hub
	unsubscribe []func()

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bus, instances)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("dispatch bus is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bus:       deps.Bus,
		instances: make(map[string]Instance, len(deps.Instances)),
		mqtt:      deps.MQTT,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		doors:     newDoorStore(),
	}
	for _, inst := range deps.Instances {
		id := inst.InstanceID()
		if _, dup := s.instances[id]; dup {
			return nil, fmt.Errorf("duplicate instance %q", id)
		}
		s.instances[id] = inst
		s.order = append(s.order, id)
	}

	s.hub = NewHub(s.wsCfg, s.logger, s.channelSource())
	return s, nil
}

// instanceChannels maps every bus channel of the configured instances to
// the instance it belongs to.
type instanceChannels struct {
	owner map[string]Instance
	hubs  map[string]bool
}

func (s *Server) channelSource() instanceChannels {
	ch := dispatch.Channels{}
	src := instanceChannels{
		owner: make(map[string]Instance),
		hubs:  make(map[string]bool),
	}
	for _, id := range s.order {
		for _, channel := range ch.All(id) {
			src.owner[channel] = s.instances[id]
		}
		src.hubs[ch.HubStatus(id)] = true
	}
	return src
}

func (c instanceChannels) Known(channel string) bool {
	_, ok := c.owner[channel]
	return ok
}

// Snapshot returns the hub status for hub channels so a late subscriber
// does not wait for the next phase change.
func (c instanceChannels) Snapshot(channel string) (any, bool) {
	if !c.hubs[channel] {
		return nil, false
	}
	return c.owner[channel].Status(), true
}

// Start subscribes the door store and WebSocket relay to the bus and begins
// listening for HTTP connections in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be opened (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.subscribeBus()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		s.unsubscribeBus()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.unsubscribeBus()
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// subscribeBus registers the door store and relay on every instance channel.
func (s *Server) subscribeBus() {
	ch := dispatch.Channels{}
	for _, instanceID := range s.order {
		s.unsubscribe = append(s.unsubscribe,
			s.bus.Subscribe(ch.DoorStatus(instanceID), func(payload any) error {
				return s.doors.applyStatus(instanceID, payload)
			}),
			s.bus.Subscribe(ch.DoorLog(instanceID), func(payload any) error {
				return s.doors.applyLog(instanceID, payload)
			}),
		)
		for _, channel := range ch.All(instanceID) {
			s.unsubscribe = append(s.unsubscribe, s.bus.Subscribe(channel, func(payload any) error {
				s.hub.Broadcast(channel, payload)
				return nil
			}))
		}
	}
}

func (s *Server) unsubscribeBus() {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
}
