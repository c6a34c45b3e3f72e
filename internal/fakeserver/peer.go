package fakeserver

import (
	"sync"

	"github.com/lxzan/gws"
)

// peer is one client connection. WebSocket peers are written to directly;
// HTTP peers queue envelopes until the next poll or event stream flush.
type peer struct {
	id        string
	transport string
	socket    *gws.Conn

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	user     string
	channels map[string]bool
	queue    []string
}

func (p *peer) push(data string) {
	if p.socket != nil {
		_ = p.socket.WriteMessage(gws.OpcodeText, []byte(data))
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, data)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *peer) drain() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.socket != nil {
			_ = p.socket.NetConn().Close()
		}
	})
}

func (p *peer) subscribe(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[channel] = true
}

func (p *peer) subscribed(channel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[channel]
}

func (p *peer) authenticate(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = userID
}

func (p *peer) userID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// name is the user id, or the connection id for anonymous peers.
func (p *peer) name() string {
	if u := p.userID(); u != "" {
		return u
	}
	return p.id
}
