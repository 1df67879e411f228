package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single WebSocket connection to the push server. It does
// no reconnection or protocol work; the Manager layers both on top.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns a channel of all raw inbound messages, each with a
	// local receive timestamp.
	Messages() <-chan InboundMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan InboundMessage
	errors   chan error
	done     chan struct{}

	// writeMu serializes frame writes; gorilla allows one writer.
	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	aliveAt   time.Time
	closed    bool
}

// NewClient creates a new WebSocket client. Zero config fields take the
// defaults from DefaultClientConfig.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	def := DefaultClientConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan InboundMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the push server and starts the read and keepalive
// loops. A closed client cannot be reconnected; the Manager builds a
// fresh one per attempt.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.aliveAt = time.Now()
	c.mu.Unlock()

	// Both directions of ping traffic prove the peer is alive.
	conn.SetPingHandler(func(data string) error {
		c.markAlive()
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		return conn.WriteControl(websocket.PongMessage, []byte(data), deadline)
	})
	conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	go c.readLoop()
	go c.keepaliveLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan InboundMessage { return c.messages }

func (c *client) Errors() <-chan error { return c.errors }

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) markAlive() {
	c.mu.Lock()
	c.aliveAt = time.Now()
	c.mu.Unlock()
}

func (c *client) sinceAlive() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.aliveAt)
}

func (c *client) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// emitErr reports a connection error without blocking; one pending
// error is enough for the Manager to tear down and reconnect.
func (c *client) emitErr(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop reads frames from the WebSocket into the messages channel.
// The receive timestamp is captured before any decoding so downstream
// ordering reflects arrival, not processing.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for !c.closing() {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Read errors after Close are the close itself.
			if !c.closing() {
				c.emitErr(err)
			}
			return
		}

		select {
		case c.messages <- InboundMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// keepaliveLoop pings the server on the heartbeat cadence and reports
// the connection stale when neither direction has shown life within
// PingTimeout.
func (c *client) keepaliveLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if idle := c.sinceAlive(); idle > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale", "idle", idle, "timeout", c.cfg.PingTimeout)
				c.emitErr(ErrStaleConnection)
				return
			}
		}
	}
}
