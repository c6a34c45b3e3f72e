package carotene

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carotene/carotene.go/internal/fakeclock"
	"github.com/carotene/carotene.go/internal/faketransport"
	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/metrics"
)

type testClient struct {
	*Client
	clock *fakeclock.Clock
	ws    *faketransport.Transport
	poll  *faketransport.Transport
}

// newTestClient builds a client over a fake websocket, which needs heartbeats, followed by a fake polling transport.
func newTestClient(t *testing.T, wsBehavior, pollBehavior faketransport.Behavior) (*testClient, *Config) {
	t.Helper()
	tc := &testClient{
		Client: New(),
		clock:  fakeclock.New(),
		ws:     faketransport.New(connection.TransportWebSocket, wsBehavior),
		poll:   faketransport.New(connection.TransportPolling, pollBehavior),
	}
	tc.ws.Heartbeat = true

	cfg := NewConfig("ws://carotene.test/stream")
	cfg.Clock = tc.clock
	cfg.Transports = []connection.Descriptor{tc.ws.Descriptor(), tc.poll.Descriptor()}
	return tc, cfg
}

func TestInitValidation(t *testing.T) {
	testCases := []struct {
		name string
		cfg  *Config
		err  error
	}{
		{"nil config", nil, ErrNoAddress},
		{"empty address", NewConfig(""), ErrNoAddress},
		{"unsupported scheme", NewConfig("ftp://carotene.test"), connection.ErrUnsupportedURL},
		{"unknown engine", func() *Config {
			cfg := NewConfig("ws://carotene.test")
			cfg.WebSocketEngine = "netpoll"
			return cfg
		}(), ErrUnknownEngine},
		{"inverted backoff", func() *Config {
			cfg := NewConfig("ws://carotene.test")
			cfg.MinBackoff = time.Minute
			return cfg
		}(), ErrInvalidBackoff},
		{"jitter out of range", func() *Config {
			cfg := NewConfig("ws://carotene.test")
			cfg.BackoffJitter = 2
			return cfg
		}(), ErrInvalidBackoff},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := New().Init(tc.cfg)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestInitTwice(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Init(cfg))
	assert.ErrorIs(t, c.Init(cfg), ErrAlreadyInitialized)
}

func TestDeclinedWebSocketFallsBackToPolling(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.Manual, faketransport.Manual)
	c.ws.SetDeclined(true)

	require.NoError(t, c.Init(cfg))
	assert.Equal(t, StateConnecting, c.State())
	assert.Equal(t, 1, c.poll.Probes())
	assert.Empty(t, c.clock.Pending(), "fallback must not wait")

	c.poll.Last().Accept()
	assert.Equal(t, StateOpen, c.State())
}

func TestSubscribeBeforeOpen(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.Manual)

	require.NoError(t, c.Subscribe("b", func(Message) {}))
	require.NoError(t, c.Subscribe("a", func(Message) {}))
	require.NoError(t, c.Subscribe("a", func(Message) {}))
	require.NoError(t, c.Init(cfg))

	p := c.poll.Last()
	require.NotNil(t, p)
	assert.Empty(t, p.Sent())

	p.Accept()
	assert.Equal(t, []string{`{"subscribe":"a"}`, `{"subscribe":"b"}`}, p.Sent())
}

func TestSubscribeWhileOpen(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Init(cfg))

	require.NoError(t, c.Subscribe("news", func(Message) {}))
	assert.Equal(t, []string{`{"subscribe":"news"}`}, c.poll.Last().Sent())
	assert.Equal(t, []string{"news"}, c.Channels())
}

func TestSubscribeValidation(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.Subscribe("", func(Message) {}), ErrNoChannel)
	assert.Error(t, c.Subscribe("a", nil))
	assert.Empty(t, c.Channels())
}

func TestAuthenticateBeforeInit(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)

	require.NoError(t, c.Authenticate("u1", "t1"))
	require.NoError(t, c.Subscribe("chat", func(Message) {}))
	require.NoError(t, c.Init(cfg))

	assert.Equal(t, []string{
		`{"authenticate":"u1","token":"t1"}`,
		`{"subscribe":"chat"}`,
	}, c.poll.Last().Sent())
}

func TestInitCredentials(t *testing.T) {
	t.Run("config overrides", func(t *testing.T) {
		c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
		require.NoError(t, c.Authenticate("early", "x"))
		cfg.UserID = "u2"
		require.NoError(t, c.Init(cfg))
		assert.Equal(t, []string{`{"authenticate":"u2","token":null}`}, c.poll.Last().Sent())
	})

	t.Run("no credentials", func(t *testing.T) {
		c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
		require.NoError(t, c.Init(cfg))
		assert.Empty(t, c.poll.Last().Sent())
	})
}

func TestAuthenticateWhileOpen(t *testing.T) {
	t.Run("sends credentials", func(t *testing.T) {
		c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
		require.NoError(t, c.Init(cfg))

		require.NoError(t, c.Authenticate("u1", "t1"))
		assert.Equal(t, []string{`{"authenticate":"u1","token":"t1"}`}, c.poll.Last().Sent())
	})

	t.Run("empty user stays unauthenticated", func(t *testing.T) {
		c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
		require.NoError(t, c.Init(cfg))

		require.NoError(t, c.Authenticate("", ""))
		require.NoError(t, c.Authenticate("", "t1"))
		assert.Empty(t, c.poll.Last().Sent())

		c.poll.Last().ResetSession()
		assert.Empty(t, c.poll.Last().Sent(), "nothing is replayed either")
	})
}

func TestSubscribeDuringReplayWaitsForIt(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.Manual)
	require.NoError(t, c.Authenticate("u1", "t1"))
	require.NoError(t, c.Subscribe("a", func(Message) {}))

	// The first replayed envelope races a Subscribe from another goroutine.
	done := make(chan error, 1)
	var once sync.Once
	c.poll.SetOnSend(func(string) {
		once.Do(func() {
			started := make(chan struct{})
			go func() {
				close(started)
				done <- c.Subscribe("b", func(Message) {})
			}()
			<-started
			time.Sleep(20 * time.Millisecond)
		})
	})
	require.NoError(t, c.Init(cfg))
	c.poll.Last().Accept()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(faketransport.Timeout):
		t.Fatal("Subscribe did not return")
	}
	assert.Equal(t, []string{
		`{"authenticate":"u1","token":"t1"}`,
		`{"subscribe":"a"}`,
		`{"subscribe":"b"}`,
	}, c.poll.Last().Sent())
}

func TestPublish(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.Manual)

	assert.ErrorIs(t, c.Publish("chat", "early"), ErrNotConnected, "before init")

	require.NoError(t, c.Init(cfg))
	assert.ErrorIs(t, c.Publish("chat", "connecting"), ErrNotConnected)

	c.poll.Last().Accept()
	require.NoError(t, c.Publish("chat", map[string]int{"n": 1}))
	assert.Equal(t, []string{`{"publish":"{\"n\":1}","channel":"chat"}`}, c.poll.Last().Sent())

	assert.ErrorIs(t, c.Publish("", 1), ErrNoChannel)
	assert.Error(t, c.Publish("chat", func() {}))
}

func TestPresence(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Init(cfg))

	var got []Presence
	c.SetOnPresence(func(p Presence) { got = append(got, p) })

	require.NoError(t, c.Presence("room"))
	assert.Equal(t, []string{`{"presence":"room"}`}, c.poll.Last().Sent())

	c.poll.Last().Push(`{"type":"presence","channel":"room","subscribers":["u1","u2"]}`)
	assert.Equal(t, []Presence{{Channel: "room", Subscribers: []string{"u1", "u2"}}}, got)
}

func TestDispatchArrayInOrder(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Init(cfg))

	var calls []string
	require.NoError(t, c.Subscribe("a", func(m Message) {
		var body struct{ X int }
		require.NoError(t, m.Decode(&body))
		calls = append(calls, "a:"+m.Channel)
		assert.Equal(t, 1, body.X)
	}))
	c.SetOnPresence(func(p Presence) { calls = append(calls, "presence:"+p.Channel) })
	c.SetOnInfo(func(i Info) { calls = append(calls, "info") })

	c.poll.Last().Push(`[{"type":"message","channel":"a","message":"{\"X\":1}"},` +
		`{"type":"presence","channel":"b","subscribers":["u1"]},{"type":"info","nodes":3}]`)

	assert.Equal(t, []string{"a:a", "presence:b", "info"}, calls)
}

func TestDispatchDropsUnroutable(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Init(cfg))

	calls := 0
	require.NoError(t, c.Subscribe("a", func(Message) { calls++ }))

	p := c.poll.Last()
	p.Push(`{"type":"message","channel":"unknown","message":"1"}`)
	p.Push(`{"type":"presence","channel":"a","subscribers":[]}`)
	p.Push(`{"type":"info"}`)
	p.Push(`{"type":"future"}`)
	p.Push(`pong`)
	p.Push(`not json`)
	p.Push(`{"type":"message","channel":"a","message":"1"}`)
	assert.Equal(t, 1, calls)

	c.Unsubscribe("a")
	p.Push(`{"type":"message","channel":"a","message":"2"}`)
	assert.Equal(t, 1, calls)
}

func TestCallbacksMayCallBack(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Init(cfg))

	require.NoError(t, c.Subscribe("ask", func(m Message) {
		assert.NoError(t, c.Publish("answer", "pong"))
		assert.NoError(t, c.Subscribe("later", func(Message) {}))
	}))
	c.poll.Last().Push(`{"type":"message","channel":"ask","message":"1"}`)

	assert.Equal(t, []string{
		`{"subscribe":"ask"}`,
		`{"publish":"\"pong\"","channel":"answer"}`,
		`{"subscribe":"later"}`,
	}, c.poll.Last().Sent())
}

func TestHeartbeatSendsPing(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.OpenOnOpen, faketransport.OpenOnOpen)
	cfg.HeartbeatInterval = time.Second
	require.NoError(t, c.Init(cfg))

	c.clock.Advance(3 * time.Second)
	assert.Equal(t, []string{"ping", "ping", "ping"}, c.ws.Last().Sent())
}

func TestReconnectRestoresSession(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	cfg.UserID, cfg.Token = "u1", "t1"
	require.NoError(t, c.Subscribe("chat", func(Message) {}))
	require.NoError(t, c.Init(cfg))

	first := c.poll.Last()
	first.Fail(errors.New("reset"))
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Publish("chat", 1), ErrNotConnected)

	c.clock.Advance(2 * cfg.MinBackoff)
	second := c.poll.Last()
	require.NotSame(t, first, second)
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, []string{`{"authenticate":"u1","token":"t1"}`, `{"subscribe":"chat"}`}, second.Sent())
}

func TestSessionResetResubscribes(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	require.NoError(t, c.Subscribe("chat", func(Message) {}))
	require.NoError(t, c.Init(cfg))

	p := c.poll.Last()
	p.ResetSession()
	assert.Equal(t, []string{`{"subscribe":"chat"}`, `{"subscribe":"chat"}`}, p.Sent())
}

func TestOnDisconnect(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.Manual, faketransport.Manual)
	c.ws.SetDeclined(true)
	c.poll.SetDeclined(true)

	disconnects := 0
	c.SetOnDisconnect(func() { disconnects++ })
	require.NoError(t, c.Init(cfg))
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, []time.Duration{cfg.MaxBackoff}, c.clock.Pending())

	c.poll.SetDeclined(false)
	c.poll.SetBehavior(faketransport.OpenOnOpen)
	c.clock.Advance(cfg.MaxBackoff)
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, 1, disconnects)
}

func TestClose(t *testing.T) {
	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	assert.ErrorIs(t, c.Close(), ErrNotInitialized)

	require.NoError(t, c.Subscribe("chat", func(Message) {}))
	require.NoError(t, c.Init(cfg))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, c.poll.Last().CloseCalls())
	assert.Empty(t, c.clock.Pending())
	assert.Equal(t, []string{"chat"}, c.Channels(), "subscriptions survive Close")
}

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))

	c, cfg := newTestClient(t, faketransport.FailOnOpen, faketransport.OpenOnOpen)
	cfg.Metrics = m
	require.NoError(t, c.Subscribe("a", func(Message) {}))
	require.NoError(t, c.Init(cfg))

	c.poll.Last().Push(`[{"type":"message","channel":"a","message":"1"},{"type":"info"}]`)
	c.poll.Last().Push(`{broken`)
	c.poll.Last().Fail(nil)
	assert.ErrorIs(t, c.Publish("a", 1), ErrNotConnected)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			key := f.GetName()
			for _, l := range metric.GetLabel() {
				key += "," + l.GetName() + "=" + l.GetValue()
			}
			if metric.GetCounter() != nil {
				values[key] = metric.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["carotene_client_envelopes_sent_total,kind=subscribe"])
	assert.Equal(t, 1.0, values["carotene_client_send_failures_total,kind=publish"])
	assert.Equal(t, 1.0, values["carotene_client_envelopes_received_total,type=message"])
	assert.Equal(t, 1.0, values["carotene_client_envelopes_received_total,type=info"])
	assert.Equal(t, 1.0, values["carotene_client_malformed_payloads_total"])
	assert.Equal(t, 1.0, values["carotene_client_transport_drops_total,transport=xhrPolling"])
}
