package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/mqtt"
)

// WebSocket message types. round and reading are also the channel names a
// client subscribes to.
const (
	WSTypeRound       = "round"
	WSTypeReading     = "reading"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is the per-client outbound queue; a full queue drops.
	wsSendBufferSize = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second

	// readingRelayQoS: the feed is a live view, lost readings stay in the store.
	readingRelayQoS = 0
)

// channelBits maps channel names to subscription bits.
var channelBits = map[string]uint32{
	WSTypeRound:   1 << 0,
	WSTypeReading: 1 << 1,
}

const allChannels = 1<<0 | 1<<1

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound frame with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// wsTimings are the keepalive settings after fallbacks.
type wsTimings struct {
	maxSize  int64
	pingEach time.Duration
	pongWait time.Duration
}

// readDeadline is how long a silent peer survives: one ping plus its pong.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.pingEach + t.pongWait)
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		maxSize:  int64(cfg.MaxMessageSize),
		pingEach: time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
	}
	if t.maxSize <= 0 {
		t.maxSize = defaultWSMaxMessageSize
	}
	if t.pingEach <= 0 {
		t.pingEach = defaultWSPingInterval
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultWSPongTimeout
	}
	return t
}

// Hub fans round reports and relayed readings out to WebSocket clients.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// WSClient is one connected feed consumer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// channels is a bitmask over channelBits.
	channels atomic.Uint32

	// done closes once the client leaves the hub; send is never closed.
	done      chan struct{}
	closeOnce sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub. A nil logger discards.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		timings: newWSTimings(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.leave()
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Calling it twice is harmless.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.leave()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends a frame of msgType to every client subscribed to that
// channel. topic is only set for relayed readings.
func (h *Hub) Broadcast(msgType, topic string, payload any) {
	bit, ok := channelBits[msgType]
	if !ok {
		h.logger.Error("broadcast on unknown channel", "type", msgType)
		return
	}

	data, err := encodeWS(WSMessage{Type: msgType, Topic: topic, Payload: payload})
	if err != nil {
		h.logger.Error("encoding broadcast failed", "type", msgType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var sent, full int
	for c := range h.clients {
		if c.channels.Load()&bit == 0 {
			continue
		}
		if c.enqueue(data) {
			sent++
		} else {
			full++
		}
	}
	if full > 0 {
		h.dropped.Add(uint64(full))
		h.logger.Warn("websocket clients too slow, frames dropped", "type", msgType, "dropped", full)
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "type", msgType, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for full client queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// newClient returns a client subscribed to every channel.
func (h *Hub) newClient(conn *websocket.Conn) *WSClient {
	c := &WSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		done: make(chan struct{}),
	}
	c.channels.Store(allChannels)
	return c
}

func encodeWS(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// subscribeReadings relays the MQTT reading mirror to WebSocket clients.
func (s *Server) subscribeReadings() error {
	if s.mqtt == nil {
		return nil
	}
	topic := mqtt.Topics{}.AllReadings()
	s.logger.Info("relaying MQTT readings to the live feed", "topic", topic)
	return s.mqtt.Subscribe(topic, readingRelayQoS, func(t string, payload []byte) error {
		if !json.Valid(payload) {
			s.logger.Warn("dropping non-JSON reading from relay", "topic", t)
			return nil
		}
		s.hub.Broadcast(WSTypeReading, t, json.RawMessage(payload))
		return nil
	})
}

// handleWebSocket upgrades the request and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestIDFrom(r.Context()))
		return
	}

	client := s.hub.newClient(conn)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// leave closes done and the connection, once.
func (c *WSClient) leave() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue queues data without blocking. It reports false only when the
// queue is full; frames for a departed client are silently discarded.
func (c *WSClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) readPump() {
	defer c.hub.Unregister(c)

	t := c.hub.timings
	c.conn.SetReadLimit(t.maxSize)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.handle(data)
	}
}

func (c *WSClient) writePump() {
	t := c.hub.timings
	ping := time.NewTicker(t.pingEach)
	defer ping.Stop()

	write := func(kind int, data []byte) bool {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case data := <-c.send:
			if !write(websocket.TextMessage, data) {
				c.leave()
				return
			}
		case <-ping.C:
			if !write(websocket.PingMessage, nil) {
				c.leave()
				return
			}
		case <-c.done:
			//nolint:errcheck // peer may already be gone
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			return
		}
	}
}

// handle answers one inbound frame.
func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(req.ID, WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeChannels(req)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

// changeChannels applies a subscribe or unsubscribe request. Unknown
// channel names reject the whole request.
func (c *WSClient) changeChannels(req wsRequest) {
	var sub WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
		c.reply(req.ID, WSTypeError, errorPayload("invalid "+req.Type+" payload"))
		return
	}

	var mask uint32
	for _, ch := range sub.Channels {
		bit, ok := channelBits[ch]
		if !ok {
			c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
		mask |= bit
	}

	key := "subscribed"
	if req.Type == WSTypeSubscribe {
		c.channels.Or(mask)
	} else {
		c.channels.And(^mask)
		key = "unsubscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeWS(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
