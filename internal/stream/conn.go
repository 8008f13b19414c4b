package stream

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

const (
	// DefaultReconnectDelay is the fixed delay before a reconnect attempt.
	DefaultReconnectDelay = 3 * time.Second

	// DefaultMaxMessageSize is the maximum frame size accepted from the peer.
	DefaultMaxMessageSize = 51200

	handshakeTimeout = 10 * time.Second
)

// Handler receives every decoded frame, in arrival order, one at a time.
// It runs synchronously on the read loop so all state mutations for one
// frame complete before the next frame is dispatched.
type Handler func(frame *Frame)

// StateHandler is notified when the connection is established or lost.
type StateHandler func(connected bool)

// Conn maintains one persistent streaming connection to the server. On
// error or close it schedules exactly one reconnect attempt after a fixed
// delay; reconnection is perpetual unless a retry ceiling is configured.
// Conn holds no business state beyond the socket and the reconnect timer.
type Conn struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	handler Handler
	onState StateHandler

	reconnectDelay time.Duration
	maxRetries     int
	maxMsgSize     int64

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	retries    int
	timer      *time.Timer
	closed     atomic.Bool
}

// Option configures a Conn.
type Option func(*Conn)

// WithReconnectDelay sets the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithMaxRetries bounds consecutive failed reconnect attempts. Zero keeps
// reconnection perpetual.
func WithMaxRetries(n int) Option {
	return func(c *Conn) {
		c.maxRetries = n
	}
}

// WithStateHandler sets the connection state callback.
func WithStateHandler(h StateHandler) Option {
	return func(c *Conn) {
		c.onState = h
	}
}

// WithRequestHeader sets headers sent during the websocket handshake.
func WithRequestHeader(header http.Header) Option {
	return func(c *Conn) {
		c.header = header
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) {
		c.dialer = d
	}
}

// WithMaxMessageSize sets the read limit for inbound frames.
func WithMaxMessageSize(n int64) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxMsgSize = n
		}
	}
}

// NewConn creates a connection manager for the given endpoint. Connect
// must be called to open it.
func NewConn(url string, handler Handler, opts ...Option) *Conn {
	c := &Conn{
		url:            url,
		handler:        handler,
		reconnectDelay: DefaultReconnectDelay,
		maxMsgSize:     DefaultMaxMessageSize,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect opens the connection. Calling while already connected or
// connecting is a no-op; calling after Close returns ErrConnClosed. The
// dial happens on a separate goroutine; dial failure schedules a
// reconnect like any other connection loss.
func (c *Conn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}
	if c.connecting || c.conn != nil {
		return nil
	}
	c.connecting = true

	go c.dial()
	return nil
}

func (c *Conn) dial() {
	connId := uuid.New().String()

	conn, _, err := c.dialer.Dial(c.url, c.header)

	c.mu.Lock()
	c.connecting = false

	if c.closed.Load() {
		c.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Debug("stream dial failed: conn_id=%s, error=%v", connId, err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	conn.SetReadLimit(c.maxMsgSize)
	c.conn = conn
	c.retries = 0
	c.mu.Unlock()

	log.Info("stream connected: conn_id=%s", connId)
	if c.onState != nil {
		c.onState(true)
	}

	c.readLoop(conn, connId)
}

// readLoop reads frames until the connection drops. Each frame is decoded
// and dispatched fully before the next read; a malformed frame is logged
// and discarded without breaking the loop.
func (c *Conn) readLoop(conn *websocket.Conn, connId string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("stream read loop panic: conn_id=%s, error=%v", connId, r)
		}
		c.handleDisconnect(conn, connId)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("stream read error: conn_id=%s, error=%v", connId, err)
			return
		}

		if c.closed.Load() {
			return
		}

		frame, err := Decode(data)
		if err != nil {
			log.Warn("stream frame decode failed: conn_id=%s, error=%v", connId, err)
			continue
		}

		c.handler(frame)
	}
}

// handleDisconnect tears down the dropped socket and arms the reconnect
// timer. Never surfaced to the user; recovery is silent.
func (c *Conn) handleDisconnect(conn *websocket.Conn, connId string) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	log.Info("stream disconnected: conn_id=%s", connId)
	if c.onState != nil {
		c.onState(false)
	}
}

// scheduleReconnectLocked arms the reconnect timer, replacing any pending
// one so two parallel connections can never come up. Caller holds mu.
func (c *Conn) scheduleReconnectLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}

	if c.maxRetries > 0 && c.retries >= c.maxRetries {
		log.Warn("stream reconnect retries exhausted: retries=%d", c.retries)
		return
	}
	c.retries++

	c.timer = time.AfterFunc(c.reconnectDelay, func() { _ = c.Connect() })
}

// IsConnected reports whether a live connection exists.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the connection down for good: the pending reconnect timer is
// canceled, the socket is closed and no further frames are dispatched.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
