package polling

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carotene/carotene.go/internal/faketransport"
	"github.com/carotene/carotene.go/pkg/connection"
)

// pollServer hands out a connection id on first contact and then drains a
// queue of scripted poll replies.
type pollServer struct {
	*httptest.Server

	mu       sync.Mutex
	id       string
	replies  []string
	posts    []string
	polls    int
	busters  map[string]bool
	failures int
	announce bool
}

func newPollServer(t *testing.T) *pollServer {
	t.Helper()
	ps := &pollServer{id: "c1", busters: map[string]bool{}}
	ps.Server = httptest.NewServer(http.HandlerFunc(ps.serve))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pollServer) serve(w http.ResponseWriter, r *http.Request) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if r.Header.Get(connection.HeaderTransport) != connection.TransportPolling {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		ps.posts = append(ps.posts, string(body))
		_, _ = io.WriteString(w, "")
		return
	}

	ps.polls++
	ps.busters[r.URL.Query().Get(CacheBusterParam)] = true
	if ps.failures > 0 {
		ps.failures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if ps.announce || r.Header.Get(connection.HeaderConnectionID) != ps.id {
		ps.announce = false
		w.Header().Set(connection.ConnectionIDBody, ps.id)
		_, _ = io.WriteString(w, connection.ConnectionIDBody)
		return
	}
	if len(ps.replies) > 0 {
		reply := ps.replies[0]
		ps.replies = ps.replies[1:]
		_, _ = io.WriteString(w, reply)
	}
}

func (ps *pollServer) queue(replies ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.replies = append(ps.replies, replies...)
}

func (ps *pollServer) rotateID(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.id = id
}

// reannounce makes the next poll reply with the current connection id.
func (ps *pollServer) reannounce() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.announce = true
}

func (ps *pollServer) pollCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.polls
}

func (ps *pollServer) failNext(n int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failures = n
}

func (ps *pollServer) recordedPosts() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.posts...)
}

func pollConfig(t *testing.T, raw string) *connection.Config {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	cfg := connection.NewConfig(u)
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Logger = nil
	return cfg
}

func TestPollingHandshake(t *testing.T) {
	ps := newPollServer(t)
	cfg := pollConfig(t, ps.URL)
	rec := faketransport.NewRecorder()
	c := New(cfg, rec)

	c.Open()
	rec.WaitOpen(t)
	assert.Equal(t, "c1", cfg.Session.ID())

	ps.queue("pong", `{"type":"info"}`)
	assert.Equal(t, `{"type":"info"}`, rec.WaitMessage(t))

	c.Close()
	assert.NoError(t, rec.WaitClose(t))
	c.Close()
	rec.NoClose(t, 50*time.Millisecond)
	assert.Empty(t, rec.Resets)
}

func TestPollingWebSocketAddress(t *testing.T) {
	ps := newPollServer(t)
	cfg := pollConfig(t, "ws"+ps.URL[len("http"):])
	rec := faketransport.NewRecorder()
	c := New(cfg, rec)

	c.Open()
	defer c.Close()
	rec.WaitOpen(t)
}

func TestPollingSessionReset(t *testing.T) {
	ps := newPollServer(t)
	cfg := pollConfig(t, ps.URL)
	rec := faketransport.NewRecorder()
	c := New(cfg, rec)

	c.Open()
	defer c.Close()
	rec.WaitOpen(t)

	ps.rotateID("c2")
	rec.WaitReset(t)
	assert.Equal(t, "c2", cfg.Session.ID())
	assert.Empty(t, rec.Opened)
}

func TestPollingSameIDIsNotAReset(t *testing.T) {
	ps := newPollServer(t)
	cfg := pollConfig(t, ps.URL)
	rec := faketransport.NewRecorder()
	c := New(cfg, rec)

	c.Open()
	defer c.Close()
	rec.WaitOpen(t)

	ps.reannounce()
	polls := ps.pollCount()
	require.Eventually(t, func() bool {
		return ps.pollCount() > polls+1
	}, faketransport.Timeout, 5*time.Millisecond)

	assert.Equal(t, "c1", cfg.Session.ID())
	assert.Empty(t, rec.Resets)
	assert.Empty(t, rec.Opened)
}

func TestPollingSend(t *testing.T) {
	ps := newPollServer(t)
	rec := faketransport.NewRecorder()
	c := New(pollConfig(t, ps.URL), rec)

	c.Open()
	rec.WaitOpen(t)

	require.True(t, c.Send(`{"subscribe":"a"}`))
	require.Eventually(t, func() bool { return len(ps.recordedPosts()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"subscribe":"a"}`}, ps.recordedPosts())

	c.Close()
	rec.WaitClose(t)
	assert.False(t, c.Send("late"))
}

func TestPollingFailure(t *testing.T) {
	ps := newPollServer(t)
	ps.failNext(1)
	rec := faketransport.NewRecorder()
	c := New(pollConfig(t, ps.URL), rec)

	c.Open()
	err := rec.WaitClose(t)
	assert.ErrorIs(t, err, connection.ErrUnexpectedCode)
	assert.Empty(t, rec.Opened)

	c.Close()
	rec.NoClose(t, 50*time.Millisecond)
}

func TestPollingDropAfterOpen(t *testing.T) {
	ps := newPollServer(t)
	rec := faketransport.NewRecorder()
	c := New(pollConfig(t, ps.URL), rec)

	c.Open()
	rec.WaitOpen(t)

	ps.Close()
	assert.Error(t, rec.WaitClose(t))
}

func TestPollingCacheBuster(t *testing.T) {
	ps := newPollServer(t)
	rec := faketransport.NewRecorder()
	c := New(pollConfig(t, ps.URL), rec)

	c.Open()
	rec.WaitOpen(t)
	require.Eventually(t, func() bool {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		return ps.polls >= 5
	}, 5*time.Second, 5*time.Millisecond)
	c.Close()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Equal(t, ps.polls, len(ps.busters))
	assert.False(t, ps.busters[""])
}

func TestDescriptor(t *testing.T) {
	cfg := pollConfig(t, "http://localhost")
	d := Descriptor(cfg)
	assert.Equal(t, connection.TransportPolling, d.Name)
	assert.False(t, d.NeedsHeartbeat)

	_, ok := d.Probe(faketransport.NewRecorder())
	assert.True(t, ok)

	cfg.Options.DisablePolling = true
	_, ok = d.Probe(faketransport.NewRecorder())
	assert.False(t, ok)
}
