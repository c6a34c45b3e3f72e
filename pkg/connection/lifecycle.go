package connection

import "sync/atomic"

const (
	// stateIdle is the zero value: the provider was built but Open was not called yet.
	stateIdle int32 = iota
	stateConnecting
	stateOpen
	stateClosed
)

// Lifecycle tracks the provider-side states that back the exactly-once
// guarantees of Events. Providers embed it and only fire OnOpen or OnClose
// when the corresponding Mark method returns true.
//
// The zero value is ready to use.
type Lifecycle struct {
	state atomic.Int32
}

// Start moves an idle provider to connecting. It returns false if Open was
// already called or the provider is closed.
func (l *Lifecycle) Start() bool {
	return l.state.CompareAndSwap(stateIdle, stateConnecting)
}

// MarkOpen moves a connecting provider to open.
func (l *Lifecycle) MarkOpen() bool {
	return l.state.CompareAndSwap(stateConnecting, stateOpen)
}

// MarkClosed moves the provider to closed. Only the first caller gets true.
func (l *Lifecycle) MarkClosed() bool {
	return l.state.Swap(stateClosed) != stateClosed
}

func (l *Lifecycle) IsOpen() bool {
	return l.state.Load() == stateOpen
}

func (l *Lifecycle) IsClosed() bool {
	return l.state.Load() == stateClosed
}
