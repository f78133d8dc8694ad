package protector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
)

// Supervisor defaults.
const (
	DefaultReadTimeout       = 60 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultShutdownTimeout   = 3 * time.Second

	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second

	hubPath = "/rt/notificationHub"
)

// Negotiator obtains a connection token for the hub.
type Negotiator interface {
	// Negotiate returns a fresh connection token.
	Negotiate(ctx context.Context) (string, error)

	// SessionCookie returns the ss-id session cookie value.
	SessionCookie() string
}

// SupervisorOptions holds configuration for creating a supervisor.
type SupervisorOptions struct {
	// InstanceID scopes the dispatch channels and metrics.
	InstanceID string

	// BaseURL is the vendor API base URL (http or https).
	BaseURL string

	// VerifySSL enables TLS certificate verification for the hub socket.
	VerifySSL bool

	// Directory provides the topology for door maps.
	Directory Directory

	// Negotiator provides connection tokens and the session cookie.
	Negotiator Negotiator

	// Publisher receives hub snapshots and door events.
	Publisher Publisher

	// Dialer overrides the websocket dialer. Optional.
	Dialer *websocket.Dialer

	// Backoff configures reconnect delays.
	Backoff BackoffConfig

	// ReadTimeout bounds the wait for the next message. Default: 60 seconds.
	ReadTimeout time.Duration

	// KeepaliveInterval is how often a ping is sent. Default: 15 seconds.
	KeepaliveInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits. Default: 3 seconds.
	ShutdownTimeout time.Duration

	// RebuildInterval and RecencyWindow configure the classifier.
	RebuildInterval time.Duration
	RecencyWindow   time.Duration

	// Now overrides the clock. Optional.
	Now func() time.Time

	Metrics Metrics
	Logger  Logger
}

// Supervisor owns the hub connection of one instance. It negotiates,
// connects, subscribes, runs the receive loop and reconnects with backoff
// until stopped.
//
// Thread Safety: Start, Stop and Status are safe for concurrent use. The
// receive loop is the only goroutine touching the map and classifier.
type Supervisor struct {
	instanceID        string
	baseURL           string
	negotiator        Negotiator
	publisher         Publisher
	dialer            *websocket.Dialer
	readTimeout       time.Duration
	keepaliveInterval time.Duration
	shutdownTimeout   time.Duration
	metrics           Metrics
	logger            Logger

	mapper     *Mapper
	classifier *Classifier
	backoff    *Backoff
	state      *hubState
	channels   dispatch.Channels

	// Lifecycle
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Live transport; closed from Stop to unblock a pending read.
	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// nextInvocation is only touched by the receive loop.
	nextInvocation int
}

// NewSupervisor creates a supervisor. Call Start to connect.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.InstanceID == "" {
		return nil, fmt.Errorf("instance id is required")
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if opts.Negotiator == nil {
		return nil, fmt.Errorf("negotiator is required")
	}
	if _, err := BuildHubURL(opts.BaseURL, ""); err != nil {
		return nil, err
	}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			//nolint:gosec // verify_ssl is an explicit per-instance setting for self-signed appliances
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifySSL},
		}
	}

	s := &Supervisor{
		instanceID:        opts.InstanceID,
		baseURL:           opts.BaseURL,
		negotiator:        opts.Negotiator,
		publisher:         opts.Publisher,
		dialer:            dialer,
		readTimeout:       opts.ReadTimeout,
		keepaliveInterval: opts.KeepaliveInterval,
		shutdownTimeout:   opts.ShutdownTimeout,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		mapper:            NewMapper(opts.Directory, opts.Logger),
		backoff:           NewBackoff(opts.Backoff),
		state:             newHubState(opts.InstanceID, opts.Now),
	}

	s.classifier = NewClassifier(ClassifierOptions{
		InstanceID:      opts.InstanceID,
		Publisher:       opts.Publisher,
		Rebuild:         s.mapper.Build,
		Subscribe:       s.subscribeControllers,
		RebuildInterval: opts.RebuildInterval,
		RecencyWindow:   opts.RecencyWindow,
		Now:             opts.Now,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		state:           s.state,
	})

	return s, nil
}

// InstanceID returns the instance identifier.
func (s *Supervisor) InstanceID() string {
	return s.instanceID
}

// Start launches the supervising goroutine. Calling Start while running is
// a no-op, as is calling it while a stopped loop that overran the shutdown
// timeout is still draining.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.logWarn("previous hub loop still draining, start ignored")
			return
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.setPhase(PhaseStarting, false)
	go s.run(runCtx, done)
}

// Stop cancels the loop, closes the live connection, waits up to the
// shutdown timeout and publishes the stopped snapshot. Safe to call multiple
// times.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	s.closeConn()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logWarn("hub loop did not exit within shutdown timeout", "timeout", s.shutdownTimeout)
	}

	s.setPhase(PhaseStopped, false)
}

// Status returns the current hub snapshot.
func (s *Supervisor) Status() HubStatus {
	return s.state.snapshot()
}

// Doors returns the doors of the current map.
func (s *Supervisor) Doors() []Door {
	return s.state.mappedDoorList()
}

// run is the supervising loop: connect, read until failure, back off, repeat.
func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		s.state.setError(err)
		s.publishHub()
		if s.metrics != nil {
			s.metrics.PhaseChanged(s.instanceID, string(PhaseError))
		}

		delay, jitter := s.backoff.Next()
		s.logWarn("hub connection failed",
			"error", err,
			"retry_in", delay+jitter,
			"attempt", s.backoff.Attempts())

		timer := time.NewTimer(delay + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.state.markReconnect()
	}
}

// connectOnce runs one connection attempt through to the end of its receive
// loop. It always returns a non-nil error.
func (s *Supervisor) connectOnce(ctx context.Context) error {
	m := s.mapper.Build(ctx)
	controllers := m.Controllers()
	s.state.setMap(m, nil)
	if s.metrics != nil {
		s.metrics.MappedDoors(s.instanceID, m.DoorCount())
	}

	token, err := s.negotiator.Negotiate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiateFailed, err)
	}
	wsURL, err := BuildHubURL(s.baseURL, token)
	if err != nil {
		return err
	}
	s.state.setSession(wsURL, token)

	s.setPhase(PhaseConnecting, false)
	if s.metrics != nil {
		s.metrics.ConnectAttempt(s.instanceID)
	}

	header := http.Header{}
	if cookie := s.negotiator.SessionCookie(); cookie != "" {
		header.Set("Cookie", "ss-id="+cookie)
	}
	header.Set("X-Requested-With", "XMLHttpRequest")

	conn, resp, err := s.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !s.setConn(ctx, conn) {
		conn.Close()
		return ctx.Err()
	}
	defer s.clearConn(conn)

	s.setPhase(PhaseHandshake, true)
	if err := s.write(conn, EncodeHandshake()); err != nil {
		return fmt.Errorf("%w: sending handshake: %w", ErrConnectionLost, err)
	}

	s.nextInvocation = 0
	subscribed := s.invokeStartup(conn, controllers)
	s.classifier.Reset(m, subscribed)
	s.state.setMap(m, subscribed)
	s.state.markConnected()

	s.backoff.Reset()
	s.setPhase(PhaseRunning, true)
	s.logInfo("hub connected", "doors", m.DoorCount(), "controllers", subscribed)

	kaCtx, kaCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(kaCtx, conn)
	}()
	defer wg.Wait()
	defer kaCancel()

	return s.readLoop(ctx, conn)
}

// invokeStartup sends Init and the status subscription. Failures are logged
// and do not end the connection. Returns the controllers subscribed.
func (s *Supervisor) invokeStartup(conn *websocket.Conn, controllers []string) []string {
	if err := s.invoke(conn, TargetInit, []any{nil, nil}); err != nil {
		s.logWarn("hub Init invocation failed", "error", err)
	}
	if len(controllers) == 0 {
		return nil
	}
	if err := s.invoke(conn, TargetSubscribe, []any{controllers}); err != nil {
		s.logWarn("status subscription failed", "controllers", controllers, "error", err)
		return nil
	}
	return controllers
}

// subscribeControllers is used by the classifier after a triggered rebuild.
func (s *Supervisor) subscribeControllers(_ context.Context, controllers []string) error {
	conn := s.currentConn()
	if conn == nil {
		return ErrConnectionLost
	}
	return s.invoke(conn, TargetSubscribe, []any{controllers})
}

func (s *Supervisor) invoke(conn *websocket.Conn, target string, args []any) error {
	s.nextInvocation++
	data, err := EncodeInvocation(target, args, strconv.Itoa(s.nextInvocation))
	if err != nil {
		return err
	}
	return s.write(conn, data)
}

// readLoop processes messages until the connection fails or the context is
// cancelled.
func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		if msgType == websocket.BinaryMessage {
			s.state.recordNonDoorEvent()
			continue
		}

		frames, errs := DecodeFrames(data)
		for _, decodeErr := range errs {
			if s.metrics != nil {
				s.metrics.FrameMalformed(s.instanceID)
			}
			s.logWarn("skipping malformed hub frame", "error", decodeErr)
			s.state.setLogLine(fmt.Sprintf("Bad JSON frame (len=%d)", len(data)))
		}

		activity := false
		for _, f := range frames {
			if s.metrics != nil {
				s.metrics.FrameDecoded(s.instanceID, FrameKind(f))
			}

			switch fr := f.(type) {
			case CloseFrame:
				return fmt.Errorf("%w: %s", ErrServerClosed, fr.Error)
			case HandshakeResponse:
				if fr.Error != "" {
					return fmt.Errorf("%w: %s", ErrHandshakeRejected, fr.Error)
				}
				continue
			case PingFrame:
				continue
			}

			s.classifier.Handle(ctx, f)
			activity = true
		}

		if activity {
			s.publishHub()
		}
	}
}

// keepalive sends a ping frame every interval until ctx is done or a write
// fails. The read deadline detects a dead peer.
func (s *Supervisor) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(conn, EncodePing()); err != nil {
				s.logDebug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Supervisor) write(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// setConn records the live connection unless ctx is already cancelled, so a
// Stop racing with the dial cannot leave an unclosed connection behind.
func (s *Supervisor) setConn(ctx context.Context, conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *Supervisor) clearConn(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	conn.Close()
}

func (s *Supervisor) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Supervisor) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Supervisor) setPhase(p Phase, connected bool) {
	s.state.setPhase(p, connected)
	if s.metrics != nil {
		s.metrics.PhaseChanged(s.instanceID, string(p))
	}
	s.logDebug("hub phase", "phase", p, "connected", connected)
	s.publishHub()
}

func (s *Supervisor) publishHub() {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(s.channels.HubStatus(s.instanceID), s.state.snapshot())
}

// BuildHubURL derives the hub socket URL from the API base URL and token.
// A path prefix on the base URL is kept, as it is for negotiation.
func BuildHubURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	var scheme string
	switch u.Scheme {
	case "https":
		scheme = "wss"
	case "http":
		scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBaseURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidBaseURL)
	}

	hub := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     path.Join("/", u.Path, hubPath),
		RawQuery: url.Values{"id": {token}}.Encode(),
	}
	return hub.String(), nil
}

func (s *Supervisor) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *Supervisor) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Supervisor) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}
