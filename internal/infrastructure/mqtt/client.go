package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
)

// Client is the broker session behind the reading mirror, the round
// report topic and the API's live relay.
//
// Paho reconnects on its own; Client remembers subscriptions and replays
// them on every reconnect. All methods are safe for concurrent use.
type Client struct {
	paho      pahomqtt.Client
	cfg       config.MQTTConfig
	connected atomic.Bool

	mu           sync.RWMutex
	routes       map[string]route
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one inbound message. Paho calls it from its own
// goroutine; a returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to 10s for the session.
//
// Parameters:
//   - cfg: The mqtt config section
//
// Returns:
//   - *Client: Connected client; publishes a retained "online" status
//   - error: ErrConnectionFailed wrapping the cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, routes: make(map[string]route)}

	opts := newOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout); err != nil {
		// Stops paho's background connect retries.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg.Broker), err)
	}

	// sessionUp may still be pending on paho's goroutine.
	c.connected.Store(true)
	return c, nil
}

// await waits for tok, turning an expired wait into ErrTimeout.
func await(tok pahomqtt.Token, d time.Duration) error {
	if !tok.WaitTimeout(d) {
		return fmt.Errorf("%w after %v", ErrTimeout, d)
	}
	return tok.Error()
}

func (c *Client) sessionUp() {
	c.connected.Store(true)

	c.mu.RLock()
	replay := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		replay[topic] = r
	}
	hook := c.onConnect
	c.mu.RUnlock()

	for topic, r := range replay {
		c.paho.Subscribe(topic, r.qos, c.wrapHandler(r.handler))
	}
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.cfg.Broker.ClientID, StateOnline, ""))

	if hook != nil {
		hook()
	}
}

func (c *Client) sessionLost(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes a retained "offline" status, then disconnects after
// letting queued publishes drain. Safe on a nil or never-connected client.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		status := statusPayload(c.cfg.Broker.ClientID, StateOffline, reasonShutdown)
		c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, status).WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while paho is between sessions.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers a hook run after every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without
// one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, containing panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.log(); l != nil {
					l.Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.log(); l != nil {
				l.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
