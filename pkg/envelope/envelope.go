// Package envelope defines the typed messages exchanged over an open stream and their JSON wire form.
//
// Outbound envelopes are single JSON objects keyed by the operation:
//
//	{"subscribe":"chat"}
//	{"publish":"{\"text\":\"hi\"}","channel":"chat"}
//	{"authenticate":"u1","token":"t1"}
//	{"presence":"chat"}
//
// Inbound payloads are a single object or an array of objects carrying a "type" field.
// Liveness tokens ("ping", "pong") are bare text, not JSON.
package envelope

import (
	"errors"

	"github.com/goccy/go-json"
)

// Inbound envelope types.
const (
	TypeMessage  = "message"
	TypePresence = "presence"
	TypeInfo     = "info"
)

// Liveness tokens.
const (
	Ping = "ping"
	Pong = "pong"
)

// Outbound envelope kinds, as used in logs and metrics.
const (
	KindSubscribe    = "subscribe"
	KindPublish      = "publish"
	KindAuthenticate = "authenticate"
	KindPresence     = "presence"
	KindPing         = "ping"
)

var (
	ErrMalformed = errors.New("malformed payload")
	ErrNoBody    = errors.New("message has no body")
)

// Message is a publication delivered to a subscribed channel.
type Message struct {
	Channel string
	// FromServer is true when the server, not another user, published the message.
	FromServer bool
	// UserID and UserData describe the publisher when the server knows it.
	UserID   string
	UserData json.RawMessage
	// Body is the published value, already unwrapped from its string encoding.
	Body json.RawMessage
}

// Decode unmarshals the published value into v.
func (m Message) Decode(v any) error {
	if len(m.Body) == 0 {
		return ErrNoBody
	}
	return json.Unmarshal(m.Body, v)
}

// Presence is the reply to a presence query.
type Presence struct {
	Channel     string
	Subscribers []string
}

// Info is a free-form server notification. It holds every field of the envelope, "type" included.
type Info map[string]any

// Envelope is one inbound message. Exactly one of Message, Presence and Info is set, according to Type.
type Envelope struct {
	Type     string
	Message  *Message
	Presence *Presence
	Info     Info
}
