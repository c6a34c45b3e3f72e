package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransportProbed("websocket", true)
		m.TransportOpened("websocket")
		m.TransportDropped("websocket")
		m.Fallback("websocket")
		m.HardDisconnect()
		m.Heartbeat()
		m.SetState("open")
		m.EnvelopeReceived("message")
		m.EnvelopeSent("subscribe")
		m.SendFailed("publish")
		m.MalformedPayload()
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithConstLabels(prometheus.Labels{"app": "test"}))

	m.TransportProbed("websocket", false)
	m.TransportProbed("xhrPolling", true)
	m.TransportProbed("xhrPolling", true)
	m.TransportOpened("xhrPolling")
	m.Fallback("websocket")
	m.HardDisconnect()
	m.Heartbeat()
	m.Heartbeat()
	m.EnvelopeSent("subscribe")
	m.SendFailed("publish")
	m.EnvelopeReceived("message")
	m.MalformedPayload()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("websocket", "declined")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probes.WithLabelValues("xhrPolling", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.opens.WithLabelValues("xhrPolling")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("websocket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hardDisconnect))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.heartbeats))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("subscribe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures.WithLabelValues("publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.received.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformed))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["carotene_client_transport_probes_total"])
	assert.True(t, names["carotene_client_heartbeats_total"])
}

func TestState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("x"), WithSubsystem("y"))

	m.SetState("connecting")
	m.SetState("open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("closed")))
}
