// Package http provides the outbound half of the HTTP fallback transports.
//
// Server push and polling only receive over their own requests; everything the
// client sends goes through a Sender, which POSTs each payload in order.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/logger"
)

const (
	ContentTypeForm = "application/x-www-form-urlencoded; charset=utf-8"
)

// Sender delivers outbound payloads with one POST per payload, in the order
// they were queued. A non-empty reply body is handed to the reply callback as
// an inbound message.
type Sender struct {
	cfg     *connection.Config
	client  *http.Client
	logger  logger.Logger
	onReply func(body string)
	onError func(err error)

	queue chan string

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a stopped Sender. onReply and onError may be nil.
func NewSender(cfg *connection.Config, onReply func(body string), onError func(err error)) *Sender {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		cfg:     cfg,
		client:  cfg.Client(),
		logger:  cfg.Log(),
		onReply: onReply,
		onError: onError,
		queue:   make(chan string, connection.DefaultSendQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the worker. It is a no-op after the first call or after Stop.
func (s *Sender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.loop()
}

// Stop cancels in-flight requests and drops queued payloads.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if !started {
		close(s.done)
	}
}

// Done is closed once the worker exited after Stop.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// Send queues data. It returns false if the sender is stopped or the queue is full.
func (s *Sender) Send(data string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.queue <- data:
		return true
	default:
		s.logger.Warn("http send queue full, dropping payload", "size", len(data))
		return false
	}
}

func (s *Sender) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.queue:
			body, err := s.post(s.ctx, data)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Debug("http send failed", "error", err)
				if s.onError != nil {
					s.onError(err)
				}
				continue
			}
			if body != "" && s.onReply != nil {
				s.onReply(body)
			}
		}
	}
}

func (s *Sender) post(ctx context.Context, data string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.HTTPURL(), strings.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", ContentTypeForm)
	s.cfg.Session.ApplyHeaders(req.Header)

	body, _, err := Do(s.client, req)
	return body, err
}

// Do executes req and returns the response body as text along with the response headers.
// Non-2xx responses are reported as connection.ErrUnexpectedCode.
func Do(client *http.Client, req *http.Request) (string, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.Header, fmt.Errorf("%w: %d %s", connection.ErrUnexpectedCode, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), resp.Header, nil
}
