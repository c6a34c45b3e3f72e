// Package gws implements the duplex socket transport on top of lxzan/gws.
//
// It behaves like the gorillaws transport and can be selected instead of it.
package gws

import (
	"sync"

	"github.com/lxzan/gws"

	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/logger"
)

// Descriptor returns the duplex socket entry of the transport preference list.
func Descriptor(cfg *connection.Config) connection.Descriptor {
	return connection.Descriptor{
		Name:           connection.TransportWebSocket,
		NeedsHeartbeat: true,
		Probe: func(ev connection.Events) (connection.Provider, bool) {
			if cfg.Options.DisableWebSocket || cfg.IsHTTP() {
				return connection.Declined()
			}
			return New(cfg, ev), true
		},
	}
}

type Connection struct {
	connection.Lifecycle

	cfg    *connection.Config
	events connection.Events
	logger logger.Logger

	conn     *gws.Conn
	connLock sync.Mutex
}

var _ connection.Provider = (*Connection)(nil)

func New(cfg *connection.Config, ev connection.Events) *Connection {
	return &Connection{
		cfg:    cfg,
		events: ev,
		logger: cfg.Log(),
	}
}

type websocketHandler struct {
	conn *Connection
}

var _ gws.Event = (*websocketHandler)(nil)

func (h *websocketHandler) OnOpen(socket *gws.Conn) {
	if !h.conn.MarkOpen() {
		return
	}
	h.conn.events.OnOpen()
}

func (h *websocketHandler) OnClose(socket *gws.Conn, err error) {
	h.conn.fail(err)
}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *websocketHandler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *websocketHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	switch message.Opcode {
	case gws.OpcodeText, gws.OpcodeBinary:
		h.conn.events.OnMessage(string(message.Bytes()))
	}
}

// Open dials in the background and starts the read loop.
func (c *Connection) Open() {
	if !c.Start() {
		return
	}
	go c.run()
}

func (c *Connection) run() {
	option := &gws.ClientOption{
		Addr: c.cfg.WebSocketURL(),
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, res, err := gws.NewClient(&websocketHandler{conn: c}, option)
	if err != nil {
		c.fail(err)
		return
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	c.connLock.Lock()
	if c.IsClosed() {
		c.connLock.Unlock()
		conn.NetConn().Close()
		return
	}
	c.conn = conn
	c.connLock.Unlock()

	c.logger.Debug("websocket connected", "url", option.Addr, "engine", "gws")
	conn.ReadLoop()
}

func (c *Connection) fail(err error) {
	if !c.MarkClosed() {
		return
	}
	if conn := c.release(); conn != nil {
		conn.NetConn().Close()
	}
	c.logger.Debug("websocket closed", "error", err, "engine", "gws")
	c.events.OnClose(err)
}

func (c *Connection) release() *gws.Conn {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Connection) Send(data string) bool {
	if !c.IsOpen() {
		return false
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return false
	}
	if err := c.conn.WriteMessage(gws.OpcodeText, []byte(data)); err != nil {
		c.logger.Debug("websocket write failed", "error", err, "engine", "gws")
		return false
	}
	return true
}

func (c *Connection) Close() {
	if !c.MarkClosed() {
		return
	}

	if conn := c.release(); conn != nil {
		if err := conn.WriteClose(connection.CloseMessageCode, []byte("")); err != nil {
			c.logger.Debug("failed to write close message", "error", err, "engine", "gws")
		}
		conn.NetConn().Close()
	}

	c.events.OnClose(nil)
}
