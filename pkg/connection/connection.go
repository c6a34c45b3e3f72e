// Package connection defines the contract between the connection supervisor
// and the concrete transport mechanisms (duplex socket, server push, polling).
//
// A transport is described by a [Descriptor]. The supervisor walks its ordered
// list of descriptors and calls Probe on each one; a probe either declines
// (mechanism disabled or unsupported) or returns a [Provider] that is ready to
// be opened. Providers report everything that happens to them through the
// [Events] sink they were probed with.
package connection

// Events receives lifecycle notifications from exactly one Provider.
//
// Implementations must tolerate calls from any goroutine.
type Events interface {
	// OnOpen is called once, when the provider becomes usable.
	OnOpen()
	// OnMessage is called once per inbound application-level message.
	OnMessage(data string)
	// OnClose is called once, when the provider is gone.
	// err is nil for a close requested through Provider.Close.
	// Errors and closes are the same event; there is no separate error callback.
	OnClose(err error)
	// OnSessionReset is called when the server discarded the session behind an
	// already open provider and assigned a new one. State kept by the server
	// (authentication, subscriptions) must be replayed.
	OnSessionReset()
}

// Provider is one live instance of a transport mechanism.
type Provider interface {
	// Open begins connecting. It must not block and must eventually lead to
	// exactly one of Events.OnOpen or Events.OnClose.
	Open()
	// Send transmits data. It returns false when the provider is not able to
	// accept data right now. It never waits for a reply.
	Send(data string) bool
	// Close shuts the provider down. It is idempotent: calling it again, or after
	// the provider closed itself, must not fire Events.OnClose again.
	Close()
}

// ProbeFunc decides whether a transport can be used and, if so, builds a provider
// that reports to ev. It returns ok=false to decline. It must not panic.
type ProbeFunc func(ev Events) (p Provider, ok bool)

// Descriptor describes one transport mechanism in the preference list.
type Descriptor struct {
	Name string
	// NeedsHeartbeat is true for mechanisms without a built-in liveness signal.
	NeedsHeartbeat bool
	Probe          ProbeFunc
}

// Declined is the result of a probe that declines.
func Declined() (Provider, bool) {
	return nil, false
}

// EventFuncs adapts plain functions to Events. Nil fields are skipped.
type EventFuncs struct {
	Open         func()
	Message      func(data string)
	Close        func(err error)
	SessionReset func()
}

var _ Events = EventFuncs{}

func (f EventFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f EventFuncs) OnMessage(data string) {
	if f.Message != nil {
		f.Message(data)
	}
}

func (f EventFuncs) OnClose(err error) {
	if f.Close != nil {
		f.Close(err)
	}
}

func (f EventFuncs) OnSessionReset() {
	if f.SessionReset != nil {
		f.SessionReset()
	}
}
