// Package faketransport provides scripted transports and an event recorder for
// exercising the supervisor and the client without a network.
package faketransport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carotene/carotene.go/pkg/connection"
)

// ErrDropped is the error reported by Provider.Fail when the test passes nil.
var ErrDropped = errors.New("fake transport dropped")

// Behavior decides what a Provider does when the supervisor opens it.
type Behavior int

const (
	// Manual leaves the provider connecting until the test calls Accept or Fail.
	Manual Behavior = iota
	// OpenOnOpen reports OnOpen synchronously from Open.
	OpenOnOpen
	// FailOnOpen reports OnClose synchronously from Open.
	FailOnOpen
)

// Transport is a descriptor factory that records every provider it hands out.
type Transport struct {
	Name      string
	Heartbeat bool

	mu        sync.Mutex
	declined  bool
	behavior  Behavior
	onSend    func(data string)
	probes    int
	providers []*Provider
}

func New(name string, behavior Behavior) *Transport {
	return &Transport{Name: name, behavior: behavior}
}

// Declining returns a transport whose probe always declines.
func Declining(name string) *Transport {
	return &Transport{Name: name, declined: true}
}

func (t *Transport) Descriptor() connection.Descriptor {
	return connection.Descriptor{
		Name:           t.Name,
		NeedsHeartbeat: t.Heartbeat,
		Probe:          t.probe,
	}
}

func (t *Transport) probe(ev connection.Events) (connection.Provider, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probes++
	if t.declined {
		return connection.Declined()
	}
	p := &Provider{events: ev, behavior: t.behavior, onSend: t.onSend}
	t.providers = append(t.providers, p)
	return p, true
}

func (t *Transport) SetDeclined(declined bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.declined = declined
}

func (t *Transport) SetBehavior(b Behavior) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.behavior = b
}

// SetOnSend registers fn to run at the start of every Send of the providers
// handed out afterwards, before the data is recorded.
func (t *Transport) SetOnSend(fn func(data string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSend = fn
}

// Probes is the number of times the supervisor asked for a provider.
func (t *Transport) Probes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.probes
}

func (t *Transport) Providers() []*Provider {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Provider(nil), t.providers...)
}

// Last returns the most recent provider, or nil.
func (t *Transport) Last() *Provider {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.providers) == 0 {
		return nil
	}
	return t.providers[len(t.providers)-1]
}

// Provider is a connection.Provider driven by the test.
type Provider struct {
	events   connection.Events
	behavior Behavior
	onSend   func(data string)

	mu         sync.Mutex
	opened     int
	open       bool
	closed     bool
	closeCalls int
	sent       []string
}

var _ connection.Provider = (*Provider)(nil)

func (p *Provider) Open() {
	p.mu.Lock()
	p.opened++
	b := p.behavior
	p.mu.Unlock()

	switch b {
	case OpenOnOpen:
		p.Accept()
	case FailOnOpen:
		p.Fail(nil)
	}
}

func (p *Provider) Send(data string) bool {
	if p.onSend != nil {
		p.onSend(data)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return false
	}
	p.sent = append(p.sent, data)
	return true
}

func (p *Provider) Close() {
	p.mu.Lock()
	p.closeCalls++
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.open = false
	p.mu.Unlock()

	p.events.OnClose(nil)
}

// Accept reports a successful open.
func (p *Provider) Accept() {
	p.mu.Lock()
	if p.closed || p.open {
		p.mu.Unlock()
		return
	}
	p.open = true
	p.mu.Unlock()

	p.events.OnOpen()
}

// Fail reports a failure. A nil err is replaced by ErrDropped.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.open = false
	p.mu.Unlock()

	if err == nil {
		err = ErrDropped
	}
	p.events.OnClose(err)
}

// CloseAgain reports a second closure, as a misbehaving transport would.
func (p *Provider) CloseAgain() {
	p.events.OnClose(ErrDropped)
}

// Push delivers an inbound message.
func (p *Provider) Push(data string) {
	p.events.OnMessage(data)
}

// ResetSession reports that the server assigned a new session.
func (p *Provider) ResetSession() {
	p.events.OnSessionReset()
}

func (p *Provider) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *Provider) OpenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *Provider) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *Provider) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Recorder is a connection.Events that buffers every notification for assertions.
type Recorder struct {
	Opened   chan struct{}
	Messages chan string
	Closed   chan error
	Resets   chan struct{}
}

var _ connection.Events = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		Opened:   make(chan struct{}, 16),
		Messages: make(chan string, 256),
		Closed:   make(chan error, 16),
		Resets:   make(chan struct{}, 16),
	}
}

func (r *Recorder) OnOpen()               { r.Opened <- struct{}{} }
func (r *Recorder) OnMessage(data string) { r.Messages <- data }
func (r *Recorder) OnClose(err error)     { r.Closed <- err }
func (r *Recorder) OnSessionReset()       { r.Resets <- struct{}{} }

// Timeout bounds every Wait helper.
var Timeout = 5 * time.Second

func (r *Recorder) WaitOpen(t testing.TB) {
	t.Helper()
	select {
	case <-r.Opened:
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for OnOpen")
	}
}

func (r *Recorder) WaitMessage(t testing.TB) string {
	t.Helper()
	select {
	case m := <-r.Messages:
		return m
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for OnMessage")
		return ""
	}
}

func (r *Recorder) WaitClose(t testing.TB) error {
	t.Helper()
	select {
	case err := <-r.Closed:
		return err
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for OnClose")
		return nil
	}
}

func (r *Recorder) WaitReset(t testing.TB) {
	t.Helper()
	select {
	case <-r.Resets:
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for OnSessionReset")
	}
}

// NoClose fails the test if OnClose is reported within d.
func (r *Recorder) NoClose(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case err := <-r.Closed:
		t.Fatalf("unexpected OnClose: %v", err)
	case <-time.After(d):
	}
}
