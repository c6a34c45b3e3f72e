// Package fakeserver provides a fake Carotene server for integration tests.
//
// It serves the three client transports on one path: WebSocket upgrades
// (implemented with gws), a text/event-stream GET and the polling GET, plus the
// POST endpoint used by the two HTTP transports to send. Routing between them
// uses gorilla/mux request matchers on the method and headers.
//
// The server speaks enough of the channel protocol to be useful: it records
// subscriptions, fans publications out to subscribers, answers presence
// queries, replies "pong" to "ping" and verifies authenticate tokens as HS256
// JWTs issued by IssueToken.
//
// Failures are injected with RejectWebSocket and DropAll.
package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/envelope"
)

// Path is the route every transport uses.
const Path = "/stream"

// Request is one payload received from a client.
type Request struct {
	ConnectionID string
	Transport    string
	Payload      string
}

// Server is a fake Carotene server.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	upgrader   *gws.Upgrader
	secret     []byte
	ctx        context.Context
	cancel     context.CancelFunc

	mu              sync.RWMutex
	peers           map[string]*peer
	sockets         map[*gws.Conn]*peer
	received        []Request
	rejectWebSocket bool
}

// NewServer creates a fake server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:    addr,
		secret:  []byte(uuid.Must(uuid.NewV4()).String()),
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]*peer),
		sockets: make(map[*gws.Conn]*peer),
	}
	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{
		PermessageDeflate: gws.PermessageDeflate{Enabled: true},
	})
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the routes of the server, for mounting on another server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(Path, s.handleWebSocket).
		Methods(http.MethodGet).
		HeadersRegexp("Upgrade", "(?i)^websocket$")
	r.HandleFunc(Path, s.handleEventSource).
		Methods(http.MethodGet).
		HeadersRegexp("Accept", "^"+eventStreamType)
	r.HandleFunc(Path, s.handlePoll).
		Methods(http.MethodGet)
	r.HandleFunc(Path, s.handlePost).
		Methods(http.MethodPost)
	return r
}

const eventStreamType = "text/event-stream"

// Start starts accepting connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("fakeserver: %v", err)
		}
	}()
	return nil
}

// Stop closes every connection and the listener.
func (s *Server) Stop() error {
	s.cancel()
	s.DropAll()
	return s.httpServer.Close()
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the stream address with the given scheme, such as "ws" or "http".
func (s *Server) URL(scheme string) string {
	return scheme + "://" + s.Address() + Path
}

// RejectWebSocket makes WebSocket upgrades fail with 503 while reject is true.
func (s *Server) RejectWebSocket(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectWebSocket = reject
}

// IssueToken returns an HS256 token that authenticates userID for ttl.
func (s *Server) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(s.secret)
}

func (s *Server) verifyToken(userID, token string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if claims.Subject != userID {
		return fmt.Errorf("token subject %q does not match user %q", claims.Subject, userID)
	}
	return nil
}

// Publish sends message to every subscriber of channel as a server publication.
func (s *Server) Publish(channel string, message any) error {
	body, err := encode(message)
	if err != nil {
		return err
	}
	s.fanOut(channel, outboundMessage{
		Type:       envelope.TypeMessage,
		Channel:    channel,
		FromServer: true,
		Message:    body,
	})
	return nil
}

// SendInfo sends a free-form info envelope to every connected client.
func (s *Server) SendInfo(fields map[string]any) error {
	info := map[string]any{"type": envelope.TypeInfo}
	for k, v := range fields {
		info[k] = v
	}
	data, err := encode(info)
	if err != nil {
		return err
	}
	for _, p := range s.snapshot() {
		p.push(data)
	}
	return nil
}

// DropAll closes every client connection. Polling sessions are forgotten,
// so the next poll of a client starts a new session.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*peer)
	s.sockets = make(map[*gws.Conn]*peer)
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

// Received returns every payload received so far, in arrival order.
func (s *Server) Received() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.received)
}

// ReceivedPayloads returns the payloads received over transport.
// An empty transport matches every transport.
func (s *Server) ReceivedPayloads(transport string) []string {
	var out []string
	for _, r := range s.Received() {
		if transport == "" || r.Transport == transport {
			out = append(out, r.Payload)
		}
	}
	return out
}

// Connections returns the number of live connections per transport.
func (s *Server) Connections() map[string]int {
	out := make(map[string]int)
	for _, p := range s.snapshot() {
		out[p.transport]++
	}
	return out
}

// Subscribers returns the user ids subscribed to channel, sorted. Anonymous
// subscribers are reported by connection id.
func (s *Server) Subscribers(channel string) []string {
	out := []string{}
	for _, p := range s.snapshot() {
		if p.subscribed(channel) {
			out = append(out, p.name())
		}
	}
	slices.Sort(out)
	return out
}

func (s *Server) snapshot() []*peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// newPeer registers a connection. socket is nil for the HTTP transports.
func (s *Server) newPeer(transport string, socket *gws.Conn) *peer {
	p := &peer{
		id:        uuid.Must(uuid.NewV4()).String(),
		transport: transport,
		socket:    socket,
		channels:  make(map[string]bool),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.peers[p.id] = p
	if socket != nil {
		s.sockets[socket] = p
	}
	s.mu.Unlock()
	return p
}

func (s *Server) lookup(id string) *peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[id]
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	if p.socket != nil {
		delete(s.sockets, p.socket)
	}
	s.mu.Unlock()
	p.close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	reject := s.rejectWebSocket
	s.mu.RUnlock()
	if reject {
		http.Error(w, "websocket disabled", http.StatusServiceUnavailable)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		return
	}
	s.newPeer(connection.TransportWebSocket, socket)
	go socket.ReadLoop()
}

func (s *Server) handleEventSource(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	p := s.newPeer(connection.TransportEventSource, nil)
	defer s.remove(p)

	w.Header().Set("Content-Type", eventStreamType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(connection.ConnectionIDBody, p.id)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		for _, data := range p.drain() {
			for _, line := range strings.Split(data, "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
			fmt.Fprint(w, "\n")
		}
		flusher.Flush()

		select {
		case <-p.wake:
		case <-p.done:
			return
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// handlePoll answers the polling GET. An unknown or missing connection id
// starts a session: the reply body is "connection-id" and the id travels in
// the header of the same name. Later polls return the queued envelopes, as
// a JSON array when there are several.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(r.Header.Get(connection.HeaderConnectionID))
	if p == nil {
		p = s.newPeer(connection.TransportPolling, nil)
		w.Header().Set(connection.ConnectionIDBody, p.id)
		io.WriteString(w, connection.ConnectionIDBody)
		return
	}

	pending := p.drain()
	switch len(pending) {
	case 0:
	case 1:
		io.WriteString(w, pending[0])
	default:
		io.WriteString(w, "["+strings.Join(pending, ",")+"]")
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	p := s.lookup(r.Header.Get(connection.HeaderConnectionID))
	if p == nil {
		http.Error(w, "unknown connection", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if reply := s.handlePayload(p, string(body)); reply != "" {
		io.WriteString(w, reply)
	}
}

// handlePayload applies one client payload. The returned reply, if any, goes
// back to the sender on the same request.
func (s *Server) handlePayload(p *peer, payload string) string {
	s.mu.Lock()
	s.received = append(s.received, Request{ConnectionID: p.id, Transport: p.transport, Payload: payload})
	s.mu.Unlock()

	if payload == envelope.Ping {
		return envelope.Pong
	}

	var req request
	if err := decodeRequest(payload, &req); err != nil {
		return mustEncode(map[string]any{"type": envelope.TypeInfo, "error": "malformed request"})
	}

	switch {
	case req.Subscribe != nil:
		p.subscribe(*req.Subscribe)
	case req.Publish != nil:
		s.fanOut(req.Channel, outboundMessage{
			Type:    envelope.TypeMessage,
			Channel: req.Channel,
			UserID:  p.userID(),
			Message: *req.Publish,
		})
	case req.Authenticate != nil:
		token := ""
		if req.Token != nil {
			token = *req.Token
		}
		if err := s.verifyToken(*req.Authenticate, token); err != nil {
			return mustEncode(map[string]any{"type": envelope.TypeInfo, "authenticated": false, "error": err.Error()})
		}
		p.authenticate(*req.Authenticate)
		return mustEncode(map[string]any{"type": envelope.TypeInfo, "authenticated": true, "user_id": *req.Authenticate})
	case req.Presence != nil:
		return mustEncode(outboundPresence{
			Type:        envelope.TypePresence,
			Channel:     *req.Presence,
			Subscribers: s.Subscribers(*req.Presence),
		})
	}
	return ""
}

func (s *Server) fanOut(channel string, msg outboundMessage) {
	data := mustEncode(msg)
	for _, p := range s.snapshot() {
		if p.subscribed(channel) {
			p.push(data)
		}
	}
}

// Handler implements the gws.Event interface for WebSocket connections.
type Handler struct {
	gws.BuiltinEventHandler
	server *Server
}

func (h *Handler) peer(socket *gws.Conn) *peer {
	h.server.mu.RLock()
	defer h.server.mu.RUnlock()
	return h.server.sockets[socket]
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	if p := h.peer(socket); p != nil {
		h.server.remove(p)
	}
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakeserver: write pong: %v", err)
	}
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	p := h.peer(socket)
	if p == nil {
		return
	}
	if reply := h.server.handlePayload(p, string(message.Bytes())); reply != "" {
		p.push(reply)
	}
}
