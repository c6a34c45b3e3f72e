package stream

// Handler receives the supervisor events. All calls are serialized: no two
// Handler methods ever run at the same time for one Stream.
type Handler interface {
	// OnOpen is called when a transport opened, and again when the server
	// reset the session behind an open transport.
	OnOpen()
	OnMessage(data string)
	// OnClose is called once after Close completed.
	OnClose()
	// OnHeartbeat is called periodically while a transport without its own
	// liveness signal is open. The caller is expected to send a ping.
	OnHeartbeat()
	// OnDisconnect is called when every transport declined. The supervisor
	// retries after the maximum backoff delay.
	OnDisconnect()
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open       func()
	Message    func(data string)
	Close      func()
	Heartbeat  func()
	Disconnect func()
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

func (h HandlerFuncs) OnMessage(data string) {
	if h.Message != nil {
		h.Message(data)
	}
}

func (h HandlerFuncs) OnClose() {
	if h.Close != nil {
		h.Close()
	}
}

func (h HandlerFuncs) OnHeartbeat() {
	if h.Heartbeat != nil {
		h.Heartbeat()
	}
}

func (h HandlerFuncs) OnDisconnect() {
	if h.Disconnect != nil {
		h.Disconnect()
	}
}
