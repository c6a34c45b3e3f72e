package gws

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carotene/carotene.go/internal/faketransport"
	"github.com/carotene/carotene.go/pkg/connection"
)

type echoHandler struct {
	gws.BuiltinEventHandler
}

func (echoHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	if string(message.Bytes()) == "bye" {
		socket.NetConn().Close()
		return
	}
	_ = socket.WriteMessage(message.Opcode, message.Bytes())
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := gws.NewUpgrader(echoHandler{}, &gws.ServerOption{
		PermessageDeflate: gws.PermessageDeflate{Enabled: true},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsConfig(t *testing.T, httpURL string) *connection.Config {
	t.Helper()
	u, err := url.Parse("ws" + strings.TrimPrefix(httpURL, "http"))
	require.NoError(t, err)
	cfg := connection.NewConfig(u)
	cfg.Logger = nil
	return cfg
}

func TestConnectSendClose(t *testing.T) {
	srv := echoServer(t)
	rec := faketransport.NewRecorder()
	c := New(wsConfig(t, srv.URL), rec)

	assert.False(t, c.Send("early"))

	c.Open()
	rec.WaitOpen(t)

	require.True(t, c.Send("hello"))
	assert.Equal(t, "hello", rec.WaitMessage(t))

	c.Close()
	assert.NoError(t, rec.WaitClose(t))
	c.Close()
	rec.NoClose(t, 100*time.Millisecond)
}

func TestServerDrop(t *testing.T) {
	srv := echoServer(t)
	rec := faketransport.NewRecorder()
	c := New(wsConfig(t, srv.URL), rec)

	c.Open()
	rec.WaitOpen(t)
	require.True(t, c.Send("bye"))

	assert.Error(t, rec.WaitClose(t))
	assert.False(t, c.Send("late"))
}

func TestDialFailure(t *testing.T) {
	srv := echoServer(t)
	cfg := wsConfig(t, srv.URL)
	srv.Close()

	rec := faketransport.NewRecorder()
	New(cfg, rec).Open()

	assert.Error(t, rec.WaitClose(t))
	assert.Empty(t, rec.Opened)
}

func TestDescriptor(t *testing.T) {
	cfg := wsConfig(t, "http://localhost")
	d := Descriptor(cfg)
	assert.True(t, d.NeedsHeartbeat)

	_, ok := d.Probe(faketransport.NewRecorder())
	assert.True(t, ok)

	cfg.Options.DisableWebSocket = true
	_, ok = d.Probe(faketransport.NewRecorder())
	assert.False(t, ok)
}
