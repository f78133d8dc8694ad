package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/config"
)

// Client is the bridge's broker connection. Forwarders publish through it,
// echo bridges subscribe through it and the health reporter checks it.
//
// Subscriptions are remembered and sent again after every reconnect, and
// the system status topic is set to online on each connect.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	subs subscriptionSet

	connected atomic.Bool

	connects        atomic.Uint64
	losses          atomic.Uint64
	handlerFailures atomic.Uint64

	// lastMu guards the timestamps and reason of the latest transitions.
	lastMu         sync.RWMutex
	lastConnectAt  time.Time
	lastLossAt     time.Time
	lastLossReason string

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages. paho runs
// it on its own goroutine; a returned error is logged and counted.
type MessageHandler func(topic string, payload []byte) error

// Stats is a point-in-time view of the broker connection.
type Stats struct {
	Connected        bool       `json:"connected"`
	Connects         uint64     `json:"connects"`
	ConnectionLosses uint64     `json:"connection_losses"`
	HandlerFailures  uint64     `json:"handler_failures"`
	Subscriptions    int        `json:"subscriptions"`
	LastConnectAt    *time.Time `json:"last_connect_ts,omitempty"`
	LastLossAt       *time.Time `json:"last_loss_ts,omitempty"`
	LastLossReason   string     `json:"last_loss_reason,omitempty"`
}

// Connect dials the broker and waits for the first session.
//
// The client is configured with the offline LWT on protector/system/status,
// auto-reconnect between reconnect.initial_delay and reconnect.max_delay, and
// TLS when broker.tls is set.
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if no session is established in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:     cfg,
		options: opts,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", cfg.Broker.Host, "pending_subscriptions", c.subs.len())
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; callers may publish right away.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.connects.Add(1)

	c.lastMu.Lock()
	c.lastConnectAt = time.Now()
	c.lastMu.Unlock()

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.losses.Add(1)

	c.lastMu.Lock()
	c.lastLossAt = time.Now()
	if err != nil {
		c.lastLossReason = err.Error()
	}
	c.lastMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes every remembered topic. Failures are
// logged; the next reconnect tries again.
func (c *Client) restoreSubscriptions() {
	for _, sub := range c.subs.all() {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
			continue
		}
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT resubscribe failed", "topic", sub.topic, "error", token.Error())
		}
	}
}

func (c *Client) publishOnlineStatus() {
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, buildOnlinePayload(c.cfg.Broker.ClientID))
}

// Close publishes the graceful offline status, waits briefly for in-flight
// messages and disconnects. Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck returns ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is currently established.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Stats returns connection counters and the latest transitions.
func (c *Client) Stats() Stats {
	s := Stats{
		Connected:        c.IsConnected(),
		Connects:         c.connects.Load(),
		ConnectionLosses: c.losses.Load(),
		HandlerFailures:  c.handlerFailures.Load(),
		Subscriptions:    c.subs.len(),
	}

	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	if !c.lastConnectAt.IsZero() {
		t := c.lastConnectAt
		s.LastConnectAt = &t
	}
	if !c.lastLossAt.IsZero() {
		t := c.lastLossAt
		s.LastLossAt = &t
	}
	s.LastLossReason = c.lastLossReason
	return s
}

// SetOnConnect sets a callback run after every connect, including reconnects.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback run when the session is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho. Errors and panics are counted
// as handler failures and logged; neither reaches paho.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.handlerFailures.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.handlerFailures.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
