// Package gorillaws implements the duplex socket transport on top of gorilla/websocket.
package gorillaws

import (
	"context"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/logger"
)

// DefaultDialer is the default gorilla dialer used by Connection.
//
// It is the default gorilla dialer as of gorilla/websocket v1.5.0 with EnableCompression set to true.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Option func(ws *Connection)

// WithDialer replaces DefaultDialer for one connection.
func WithDialer(d *gorilla.Dialer) Option {
	return func(ws *Connection) {
		ws.dialer = d
	}
}

// WithWriteTimeout bounds every frame write, including the close frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(ws *Connection) {
		ws.writeTimeout = d
	}
}

// Descriptor returns the duplex socket entry of the transport preference list.
//
// The probe declines when the transport is disabled or when the configured
// address is a plain HTTP one.
func Descriptor(cfg *connection.Config, opts ...Option) connection.Descriptor {
	return connection.Descriptor{
		Name:           connection.TransportWebSocket,
		NeedsHeartbeat: true,
		Probe: func(ev connection.Events) (connection.Provider, bool) {
			if cfg.Options.DisableWebSocket || cfg.IsHTTP() {
				return connection.Declined()
			}
			return New(cfg, ev, opts...), true
		},
	}
}

// Connection is a single WebSocket connection attempt.
// It is not reused after it closes; the supervisor probes a new one.
type Connection struct {
	connection.Lifecycle

	cfg          *connection.Config
	events       connection.Events
	dialer       *gorilla.Dialer
	writeTimeout time.Duration
	logger       logger.Logger

	// conn is set once the handshake succeeded and cleared on close.
	conn *gorilla.Conn
	// connLock guards conn and serializes writes, which gorilla requires.
	connLock sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

var _ connection.Provider = (*Connection)(nil)

func New(cfg *connection.Config, ev connection.Events, opts ...Option) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	ws := &Connection{
		cfg:          cfg,
		events:       ev,
		dialer:       DefaultDialer,
		writeTimeout: connection.DefaultWriteTimeout,
		logger:       cfg.Log(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, o := range opts {
		o(ws)
	}
	return ws
}

// Open dials in the background.
func (ws *Connection) Open() {
	if !ws.Start() {
		return
	}
	go ws.run()
}

func (ws *Connection) run() {
	ctx := ws.ctx
	if ws.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ws.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, res, err := ws.dialer.DialContext(ctx, ws.cfg.WebSocketURL(), nil)
	if err != nil {
		ws.fail(err)
		return
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	ws.connLock.Lock()
	if ws.IsClosed() {
		// Close was called while the handshake was in flight.
		ws.connLock.Unlock()
		conn.Close()
		return
	}
	ws.conn = conn
	ws.connLock.Unlock()

	if !ws.MarkOpen() {
		conn.Close()
		return
	}

	ws.logger.Debug("websocket connected", "url", ws.cfg.WebSocketURL())
	ws.events.OnOpen()
	ws.readLoop(conn)
}

func (ws *Connection) readLoop(conn *gorilla.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			ws.fail(err)
			return
		}
		switch typ {
		case gorilla.TextMessage, gorilla.BinaryMessage:
			ws.events.OnMessage(string(data))
		}
	}
}

// fail reports a dial or read error, unless Close already reported the closure.
func (ws *Connection) fail(err error) {
	if !ws.MarkClosed() {
		return
	}
	ws.cancel()
	if conn := ws.release(); conn != nil {
		conn.Close()
	}
	ws.logger.Debug("websocket closed", "error", err)
	ws.events.OnClose(err)
}

func (ws *Connection) release() *gorilla.Conn {
	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	conn := ws.conn
	ws.conn = nil
	return conn
}

// Send writes data as a single text frame.
func (ws *Connection) Send(data string) bool {
	if !ws.IsOpen() {
		return false
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()

	if ws.conn == nil {
		return false
	}
	if ws.writeTimeout > 0 {
		_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	}
	if err := ws.conn.WriteMessage(gorilla.TextMessage, []byte(data)); err != nil {
		ws.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}

// Close sends a close frame on a best-effort basis and closes the socket.
// The read loop then exits without reporting a second closure.
func (ws *Connection) Close() {
	if !ws.MarkClosed() {
		return
	}
	ws.cancel()

	if conn := ws.release(); conn != nil {
		deadline := time.Now().Add(ws.writeTimeout)
		msg := gorilla.FormatCloseMessage(connection.CloseMessageCode, "")
		if err := conn.WriteControl(gorilla.CloseMessage, msg, deadline); err != nil {
			ws.logger.Debug("failed to write close message", "error", err)
		}
		conn.Close()
	}

	ws.events.OnClose(nil)
}
