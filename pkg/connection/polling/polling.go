// Package polling implements the HTTP polling transport.
//
// The provider repeatedly GETs the server address. The first successful
// round-trip opens the transport. A reply whose body is the literal
// "connection-id" carries the session id in the response header of the same
// name; the id is echoed on every later request, and a new id on an already
// open transport is reported as a session reset.
package polling

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/carotene/carotene.go/internal/rand"
	"github.com/carotene/carotene.go/pkg/connection"
	chttp "github.com/carotene/carotene.go/pkg/connection/http"
	"github.com/carotene/carotene.go/pkg/logger"
)

// CacheBusterParam is the query parameter that keeps intermediaries from caching polls.
const CacheBusterParam = "_"

// Descriptor returns the polling entry of the transport preference list.
func Descriptor(cfg *connection.Config) connection.Descriptor {
	return connection.Descriptor{
		Name:           connection.TransportPolling,
		NeedsHeartbeat: false,
		Probe: func(ev connection.Events) (connection.Provider, bool) {
			if cfg.Options.DisablePolling {
				return connection.Declined()
			}
			return New(cfg, ev), true
		},
	}
}

type Connection struct {
	connection.Lifecycle

	cfg    *connection.Config
	events connection.Events
	client *http.Client
	logger logger.Logger
	sender *chttp.Sender

	ctx    context.Context
	cancel context.CancelFunc

	// timerLock guards timer, which holds the next scheduled poll.
	timerLock sync.Mutex
	timer     *time.Timer
}

var _ connection.Provider = (*Connection)(nil)

func New(cfg *connection.Config, ev connection.Events) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:    cfg,
		events: ev,
		client: cfg.Client(),
		logger: cfg.Log(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.sender = chttp.NewSender(cfg, c.deliver, nil)
	return c
}

// Open schedules the first poll.
func (c *Connection) Open() {
	if !c.Start() {
		return
	}
	c.sender.Start()
	c.schedule()
}

func (c *Connection) schedule() {
	c.timerLock.Lock()
	defer c.timerLock.Unlock()

	if c.IsClosed() {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.PollInterval, c.poll)
}

func (c *Connection) poll() {
	req, err := c.newRequest()
	if err != nil {
		c.fail(err)
		return
	}

	body, header, err := chttp.Do(c.client, req)
	if c.IsClosed() {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}

	reset := false
	if body == connection.ConnectionIDBody {
		id := header.Get(connection.ConnectionIDBody)
		reset = c.cfg.Session.SetID(id)
		c.logger.Debug("polling received connection id", "connection_id", id, "changed", reset)
	}

	if c.MarkOpen() {
		c.events.OnOpen()
	} else if reset && c.IsOpen() {
		c.events.OnSessionReset()
	}

	c.deliver(body)

	if c.IsOpen() {
		c.schedule()
	}
}

func (c *Connection) newRequest() (*http.Request, error) {
	u, err := url.Parse(c.cfg.HTTPURL())
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(CacheBusterParam, rand.Token(rand.TokenLength))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	c.cfg.Session.ApplyHeaders(req.Header)
	return req, nil
}

// deliver forwards a reply body unless it is empty or a control reply.
func (c *Connection) deliver(body string) {
	switch body {
	case "", connection.ConnectionIDBody, connection.PongToken:
		return
	}
	if c.IsClosed() {
		return
	}
	c.events.OnMessage(body)
}

func (c *Connection) fail(err error) {
	if !c.MarkClosed() {
		return
	}
	c.teardown()
	c.logger.Debug("polling failed", "error", err)
	c.events.OnClose(err)
}

func (c *Connection) teardown() {
	c.cancel()
	c.sender.Stop()

	c.timerLock.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerLock.Unlock()
}

// Send posts data. It is accepted while the first poll is still in flight.
func (c *Connection) Send(data string) bool {
	if c.IsClosed() {
		return false
	}
	return c.sender.Send(data)
}

// Close stops polling and aborts the request in flight.
func (c *Connection) Close() {
	if !c.MarkClosed() {
		return
	}
	c.teardown()
	c.events.OnClose(nil)
}
