package connection

import (
	"errors"
	"time"
)

// Transport names, as used in descriptors, logs, metrics and the X-Socket-Transport header.
const (
	TransportWebSocket   = "websocket"
	TransportEventSource = "eventsource"
	TransportPolling     = "xhrPolling"
)

const (
	// HeaderTransport marks requests made by the HTTP fallback transports.
	HeaderTransport = "X-Socket-Transport"
	// HeaderConnectionID carries the server-assigned connection id once it is known.
	HeaderConnectionID = "Connection-id"
	// ConnectionIDBody is the poll reply announcing a new connection id in the
	// response header of the same name.
	ConnectionIDBody = "connection-id"

	// PingToken and PongToken are the bare liveness tokens exchanged over the stream.
	PingToken = "ping"
	PongToken = "pong"

	// CloseMessageCode is the WebSocket close code sent on a client-initiated close.
	CloseMessageCode = 1000
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultHTTPTimeout      = 45 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultSendQueueSize    = 256
	DefaultWriteTimeout     = 10 * time.Second
)

var (
	ErrNoURL          = errors.New("connection url not set")
	ErrUnsupportedURL = errors.New("unsupported url scheme")
	ErrNotOpen        = errors.New("transport is not open")
	ErrClosed         = errors.New("transport closed")
	ErrUnexpectedCode = errors.New("unexpected http status")
)
