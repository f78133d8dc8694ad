package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-protector/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame in both directions. For events,
// EventType is the bus channel the payload was published on.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSSubscribeResult answers a subscribe or unsubscribe request.
type WSSubscribeResult struct {
	Subscribed   []string `json:"subscribed,omitempty"`
	Unsubscribed []string `json:"unsubscribed,omitempty"`
	Rejected     []string `json:"rejected,omitempty"`
}

// ChannelSource decides which bus channels clients may follow and what a
// new subscriber sees first.
type ChannelSource interface {
	// Known reports whether channel belongs to a configured instance.
	Known(channel string) bool

	// Snapshot returns the current state for channels that carry one,
	// such as hub snapshots.
	Snapshot(channel string) (any, bool)
}

// Hub relays bus events to WebSocket clients, indexed by channel.
//
// Lock ordering: Hub.mu only. Client send channels are written outside it.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	source  ChannelSource
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	members map[string]map[*WSClient]struct{}
}

// WSClient is one connected socket.
type WSClient struct {
	id      string
	subject string // token subject; empty when auth is disabled
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte

	// channels is guarded by hub.mu.
	channels map[string]struct{}
}

// upgrader configures the WebSocket upgrader. Origin is enforced by the
// CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// NewHub creates a relay hub. A nil source accepts every channel and
// replays nothing.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, source ChannelSource) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		source:  source,
		clients: make(map[*WSClient]struct{}),
		members: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client with no subscriptions.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", client.id, "subject", client.subject, "clients", n)
}

// Unregister removes a client and all its subscriptions. Only the call
// that removes the client closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	h.dropLocked(client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", n)
}

// dropLocked forgets a client. Caller holds mu.
func (h *Hub) dropLocked(client *WSClient) {
	delete(h.clients, client)
	for channel := range client.channels {
		h.leaveLocked(client, channel)
	}
}

func (h *Hub) leaveLocked(client *WSClient, channel string) {
	delete(client.channels, channel)
	if members, ok := h.members[channel]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.members, channel)
		}
	}
}

// subscribe adds known channels to a client and returns what was accepted
// and what was rejected.
func (h *Hub) subscribe(client *WSClient, channels []string) (accepted, rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return nil, channels
	}
	for _, channel := range channels {
		if h.source != nil && !h.source.Known(channel) {
			rejected = append(rejected, channel)
			continue
		}
		client.channels[channel] = struct{}{}
		members, ok := h.members[channel]
		if !ok {
			members = make(map[*WSClient]struct{})
			h.members[channel] = members
		}
		members[client] = struct{}{}
		accepted = append(accepted, channel)
	}
	return accepted, rejected
}

func (h *Hub) unsubscribe(client *WSClient, channels []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	for _, channel := range channels {
		if _, ok := client.channels[channel]; ok {
			h.leaveLocked(client, channel)
			removed = append(removed, channel)
		}
	}
	return removed
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.mu.RLock()
	members := h.members[channel]
	targets := make([]*WSClient, 0, len(members))
	for client := range members {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}
	for _, client := range targets {
		client.trySend(data)
	}
	h.logger.Debug("broadcast sent", "channel", channel, "recipients", len(targets))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients following channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members[channel])
}

// closeAll disconnects every client and closes its send channel so the
// write pump exits.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.dropLocked(client)
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

func encodeEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the connection and registers a relay client.
// Nothing is relayed until the client subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	client := &WSClient{
		id:       uuid.NewString(),
		subject:  subject,
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads client messages until the socket fails. Any inbound
// message extends the read deadline, as does a pong.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	//nolint:errcheck // best effort; a failed deadline surfaces on read
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // best effort; a failed deadline surfaces on read
		extend()
		c.handleMessage(message)
	}
}

// writePump drains the send channel and pings on the configured interval.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	interval := time.Duration(cfg.PingInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound message.
func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg.ID, msg.Payload.Channels)
	case WSTypeUnsubscribe:
		removed := c.hub.unsubscribe(c, msg.Payload.Channels)
		c.reply(msg.ID, WSTypeResponse, WSSubscribeResult{Unsubscribed: removed})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe answers with the accepted and rejected channels, then
// replays the current snapshot of each accepted channel that has one.
func (c *WSClient) handleSubscribe(id string, channels []string) {
	if len(channels) == 0 {
		c.sendError(id, "no channels given")
		return
	}

	accepted, rejected := c.hub.subscribe(c, channels)
	sort.Strings(accepted)
	c.hub.logger.Info("websocket client subscribed", "client_id", c.id, "channels", accepted, "rejected", rejected)
	c.reply(id, WSTypeResponse, WSSubscribeResult{Subscribed: accepted, Rejected: rejected})

	if c.hub.source == nil {
		return
	}
	for _, channel := range accepted {
		snapshot, ok := c.hub.source.Snapshot(channel)
		if !ok {
			continue
		}
		if data, err := encodeEvent(channel, snapshot); err == nil {
			c.trySend(data)
		}
	}
}

// trySend queues data without blocking. A full buffer drops the message;
// a closed channel (client gone mid-broadcast) is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
		c.hub.logger.Debug("websocket send buffer full, message dropped", "client_id", c.id)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
