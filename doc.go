// The [carotene] package implements a client for the Carotene publish/subscribe server in the Go way.
//
// # Transports
//
// A [Client] keeps one message stream to the server. The stream is carried by the first transport that
// works, in this order: a WebSocket, a server-sent event stream, then HTTP polling. A transport that
// fails to connect is replaced by the next one right away. A connection that dropped after it opened
// is retried from the WebSocket after an exponentially growing delay, from 80ms up to 10s.
//
// The event stream transport is off by default, as in the browser client. Enable it with
// [Config.EnableEventSource].
//
// Two WebSocket engines are available, [github.com/gorilla/websocket] (the default) and
// [github.com/lxzan/gws]. Pick one with [Config.WebSocketEngine].
//
// # Channels
//
// Many named channels share the stream. [Client.Subscribe] registers one callback per channel.
// Subscriptions and credentials are kept by the client and sent again every time the stream opens,
// so callers never need to restore them after a reconnect.
//
// Sends are fire-and-forget: [Client.Publish] and friends return [ErrNotConnected] when no transport
// is open, and nothing is buffered.
//
// # Lower layers
//
// The connection supervisor lives in [github.com/carotene/carotene.go/pkg/stream] and the wire
// format in [github.com/carotene/carotene.go/pkg/envelope]. Both can be used on their own.
package carotene
