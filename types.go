package carotene

import (
	"github.com/carotene/carotene.go/pkg/envelope"
	"github.com/carotene/carotene.go/pkg/stream"
)

type (
	// Message is a publication delivered to a subscribed channel.
	Message = envelope.Message
	// Presence lists the subscribers of a channel.
	Presence = envelope.Presence
	// Info is a free-form server notification.
	Info = envelope.Info
	// State is the state of the underlying stream.
	State = stream.State
)

const (
	StateClosed     = stream.StateClosed
	StateConnecting = stream.StateConnecting
	StateOpen       = stream.StateOpen
	StateClosing    = stream.StateClosing
)
