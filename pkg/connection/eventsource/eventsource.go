// Package eventsource implements the server-push transport: a long-lived
// text/event-stream GET for inbound messages and HTTP POSTs for outbound ones.
package eventsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/carotene/carotene.go/pkg/connection"
	chttp "github.com/carotene/carotene.go/pkg/connection/http"
	"github.com/carotene/carotene.go/pkg/logger"
)

const ContentType = "text/event-stream"

// Descriptor returns the server-push entry of the transport preference list.
func Descriptor(cfg *connection.Config) connection.Descriptor {
	return connection.Descriptor{
		Name:           connection.TransportEventSource,
		NeedsHeartbeat: false,
		Probe: func(ev connection.Events) (connection.Provider, bool) {
			if cfg.Options.DisableEventSource {
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

	bodyLock sync.Mutex
	body     io.Closer
}

var _ connection.Provider = (*Connection)(nil)

func New(cfg *connection.Config, ev connection.Events) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:    cfg,
		events: ev,
		logger: cfg.Log(),
		ctx:    ctx,
		cancel: cancel,
	}

	// The stream stays open indefinitely, so the client timeout must not apply to it.
	client := *cfg.Client()
	client.Timeout = 0
	c.client = &client

	c.sender = chttp.NewSender(cfg, c.deliver, nil)
	return c
}

func (c *Connection) Open() {
	if !c.Start() {
		return
	}
	go c.run()
}

func (c *Connection) run() {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.cfg.HTTPURL(), http.NoBody)
	if err != nil {
		c.fail(err)
		return
	}
	req.Header.Set("Accept", ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	c.cfg.Session.ApplyHeaders(req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		c.fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(fmt.Errorf("%w: %d", connection.ErrUnexpectedCode, resp.StatusCode))
		return
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, ContentType) {
		c.fail(fmt.Errorf("eventsource: unexpected content type %q", ct))
		return
	}
	if id := resp.Header.Get(connection.ConnectionIDBody); id != "" {
		c.cfg.Session.SetID(id)
	}

	c.bodyLock.Lock()
	c.body = resp.Body
	c.bodyLock.Unlock()

	if !c.MarkOpen() {
		return
	}
	c.sender.Start()
	c.events.OnOpen()

	err = Read(resp.Body, c.deliver)
	if err == nil {
		err = io.EOF
	}
	c.fail(err)
}

func (c *Connection) deliver(data string) {
	if data == "" || data == connection.PongToken || c.IsClosed() {
		return
	}
	c.events.OnMessage(data)
}

func (c *Connection) fail(err error) {
	if !c.MarkClosed() {
		return
	}
	c.teardown()
	c.logger.Debug("eventsource closed", "error", err)
	c.events.OnClose(err)
}

func (c *Connection) teardown() {
	c.cancel()
	c.sender.Stop()

	c.bodyLock.Lock()
	if c.body != nil {
		c.body.Close()
		c.body = nil
	}
	c.bodyLock.Unlock()
}

func (c *Connection) Send(data string) bool {
	if c.IsClosed() {
		return false
	}
	return c.sender.Send(data)
}

func (c *Connection) Close() {
	if !c.MarkClosed() {
		return
	}
	c.teardown()
	c.events.OnClose(nil)
}

// Read parses an event stream and calls dispatch with the data of every event.
// Multi-line data is joined with "\n". Comments and fields other than data are ignored.
// It returns nil when r reaches EOF.
func Read(r io.Reader, dispatch func(data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	pending := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if pending {
				dispatch(strings.Join(data, "\n"))
			}
			data = data[:0]
			pending = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		if field == "data" {
			data = append(data, value)
			pending = true
		}
	}
	return scanner.Err()
}
