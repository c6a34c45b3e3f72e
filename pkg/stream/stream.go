// Package stream implements the connection supervisor: a single message stream
// that survives the failure of individual transports.
//
// The supervisor probes an ordered list of transports. A transport that fails
// before it opened is replaced by the next one immediately. A connection that
// dropped after it opened is retried from the first transport after an
// exponentially growing delay. When every transport declines, the supervisor
// reports a hard disconnect and retries after the maximum delay.
//
// Every event, whether it comes from a transport, a timer or a public method,
// runs on an internal serialized loop, so the supervisor state needs no locks
// except around the active provider, which Send reads from any goroutine.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/logger"
	"github.com/carotene/carotene.go/pkg/metrics"
)

type Stream struct {
	transports        []connection.Descriptor
	handler           Handler
	clock             Clock
	backoff           *Backoff
	heartbeatInterval time.Duration
	logger            logger.Logger
	metrics           *metrics.Metrics

	loop loop

	// The fields below are only accessed from the loop.
	state State
	// started is true between Open and the completion of Close.
	started bool
	// closed is true once Close was requested; no new connection cycle starts.
	closed bool
	// next is the index of the transport to probe next.
	next int
	// attempt identifies the current provider. Events from older providers are ignored.
	attempt    uint64
	activeDesc connection.Descriptor

	stopRetry     func() bool
	retryGen      uint64
	stopHeartbeat func() bool
	heartbeatGen  uint64

	activeLock sync.RWMutex
	active     connection.Provider

	publicState atomic.Int32
	session     atomic.Uint64
}

// New creates a closed supervisor over transports, in preference order.
// Call Open to start connecting.
func New(transports []connection.Descriptor, h Handler, opts ...Option) *Stream {
	if h == nil {
		h = HandlerFuncs{}
	}
	s := &Stream{
		transports:        append([]connection.Descriptor(nil), transports...),
		handler:           h,
		clock:             RealClock,
		backoff:           NewBackoff(),
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            logger.Discard(),
	}
	for _, o := range opts {
		o(s)
	}
	s.backoff.Reset()
	return s
}

// Open starts the first connection cycle. It is a no-op while a cycle is
// running. After Close completed, Open starts over from the first transport.
func (s *Stream) Open() {
	s.loop.dispatch(func() {
		if s.started {
			return
		}
		s.started = true
		s.closed = false
		s.next = 0
		s.backoff.Reset()
		s.connect()
	})
}

// Close closes the active transport and stops reconnecting.
// Handler.OnClose fires once the transport reported its closure,
// or right away if no transport was active.
func (s *Stream) Close() {
	s.loop.dispatch(s.handleCloseRequest)
}

// Send forwards data to the active transport. It returns false when no
// transport is active or the transport refused the data.
func (s *Stream) Send(data string) bool {
	p := s.provider()
	if p == nil {
		return false
	}
	return p.Send(data)
}

// Session counts the calls to Handler.OnOpen, session resets included.
// It is incremented before State reports StateOpen, so a caller that sees
// StateOpen together with a Session it has not handled yet knows that
// OnOpen is still pending.
func (s *Stream) Session() uint64 {
	return s.session.Load()
}

// State returns the current supervisor state.
func (s *Stream) State() State {
	return State(s.publicState.Load())
}

func (s *Stream) provider() connection.Provider {
	s.activeLock.RLock()
	defer s.activeLock.RUnlock()
	return s.active
}

func (s *Stream) setProvider(p connection.Provider) {
	s.activeLock.Lock()
	defer s.activeLock.Unlock()
	s.active = p
}

func (s *Stream) transition(to State) {
	if err := s.state.validateTransitionTo(to); err != nil {
		s.logger.Warn("BUG: "+err.Error(), "transport", s.activeDesc.Name)
	}
	s.logger.Debug("stream state changed", "from", s.state.String(), "to", to.String())
	s.state = to
	s.publicState.Store(int32(to))
	s.metrics.SetState(to.String())
}

// connect probes transports starting at next and opens the first one that accepts.
func (s *Stream) connect() {
	if s.closed {
		return
	}
	s.transition(StateConnecting)

	for s.next < len(s.transports) {
		d := s.transports[s.next]
		s.attempt++
		p, ok := s.probe(d, &events{s: s, attempt: s.attempt})
		s.metrics.TransportProbed(d.Name, ok)
		if !ok {
			s.logger.Debug("transport declined", "transport", d.Name)
			s.next++
			continue
		}

		s.activeDesc = d
		s.setProvider(p)
		s.logger.Debug("opening transport", "transport", d.Name)
		p.Open()
		return
	}

	s.hardDisconnect()
}

func (s *Stream) probe(d connection.Descriptor, ev connection.Events) (p connection.Provider, ok bool) {
	if d.Probe == nil {
		return connection.Declined()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("transport probe panicked", "transport", d.Name, "panic", fmt.Sprint(r))
			p, ok = nil, false
		}
	}()
	p, ok = d.Probe(ev)
	if ok && p == nil {
		return connection.Declined()
	}
	return p, ok
}

func (s *Stream) hardDisconnect() {
	s.next = 0
	s.backoff.Reset()
	s.activeDesc = connection.Descriptor{}
	s.transition(StateClosed)

	delay := s.backoff.Max()
	s.metrics.HardDisconnect()
	s.logger.Warn("no transport available", "retry_in", delay)
	s.handler.OnDisconnect()
	s.scheduleRetry(delay)
}

func (s *Stream) handleOpen(attempt uint64) {
	if attempt != s.attempt || s.state != StateConnecting {
		return
	}

	s.backoff.Reset()
	s.session.Add(1)
	s.transition(StateOpen)
	s.metrics.TransportOpened(s.activeDesc.Name)
	s.logger.Info("stream opened", "transport", s.activeDesc.Name)
	if s.activeDesc.NeedsHeartbeat {
		s.startHeartbeat()
	}
	s.handler.OnOpen()
}

func (s *Stream) handleMessage(attempt uint64, data string) {
	if attempt != s.attempt || s.state == StateClosed {
		return
	}
	s.handler.OnMessage(data)
}

func (s *Stream) handleSessionReset(attempt uint64) {
	if attempt != s.attempt || s.state != StateOpen {
		return
	}
	s.logger.Info("server reset the session, reopening", "transport", s.activeDesc.Name)
	s.session.Add(1)
	s.handler.OnOpen()
}

func (s *Stream) handleClose(attempt uint64, err error) {
	// Duplicate or stale notifications.
	if attempt != s.attempt || s.state == StateClosed {
		return
	}

	s.stopHeartbeatTimer()
	s.setProvider(nil)
	name := s.activeDesc.Name
	prev := s.state
	s.transition(StateClosed)

	switch prev {
	case StateClosing:
		s.started = false
		s.logger.Info("stream closed", "transport", name)
		s.handler.OnClose()
	case StateConnecting:
		s.metrics.Fallback(name)
		s.logger.Debug("transport failed before open, trying the next one", "transport", name, "error", err)
		s.next++
		s.connect()
	case StateOpen:
		s.metrics.TransportDropped(name)
		s.next = 0
		delay := s.backoff.Next()
		s.logger.Info("stream dropped, reconnecting", "transport", name, "error", err, "retry_in", delay)
		s.scheduleRetry(delay)
	}
}

func (s *Stream) handleCloseRequest() {
	if s.closed {
		return
	}
	s.closed = true
	s.stopRetryTimer()

	p := s.provider()
	if p == nil {
		// Waiting for a retry, or never opened.
		if s.started {
			s.started = false
			s.logger.Info("stream closed")
			s.handler.OnClose()
		}
		return
	}

	s.transition(StateClosing)
	p.Close()
}

func (s *Stream) scheduleRetry(delay time.Duration) {
	s.stopRetryTimer()
	gen := s.retryGen
	s.stopRetry = s.clock.AfterFunc(delay, func() {
		s.loop.dispatch(func() {
			if gen != s.retryGen {
				return
			}
			s.stopRetry = nil
			s.connect()
		})
	})
}

func (s *Stream) stopRetryTimer() {
	if s.stopRetry != nil {
		s.stopRetry()
		s.stopRetry = nil
	}
	s.retryGen++
}

func (s *Stream) startHeartbeat() {
	s.stopHeartbeatTimer()
	gen := s.heartbeatGen

	var tick func()
	tick = func() {
		s.loop.dispatch(func() {
			if gen != s.heartbeatGen || s.state != StateOpen {
				return
			}
			s.metrics.Heartbeat()
			s.handler.OnHeartbeat()
			s.stopHeartbeat = s.clock.AfterFunc(s.heartbeatInterval, tick)
		})
	}
	s.stopHeartbeat = s.clock.AfterFunc(s.heartbeatInterval, tick)
}

func (s *Stream) stopHeartbeatTimer() {
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
	s.heartbeatGen++
}

// events is the sink handed to one provider. It tags every notification with
// the attempt it belongs to and moves it onto the loop.
type events struct {
	s       *Stream
	attempt uint64
}

func (e *events) OnOpen() {
	e.s.loop.dispatch(func() { e.s.handleOpen(e.attempt) })
}

func (e *events) OnMessage(data string) {
	e.s.loop.dispatch(func() { e.s.handleMessage(e.attempt, data) })
}

func (e *events) OnClose(err error) {
	e.s.loop.dispatch(func() { e.s.handleClose(e.attempt, err) })
}

func (e *events) OnSessionReset() {
	e.s.loop.dispatch(func() { e.s.handleSessionReset(e.attempt) })
}
