// Package metrics exposes Prometheus collectors for the supervisor and the client.
//
// A nil *Metrics is valid and records nothing, so components can call it unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "carotene").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "carotene",
		Subsystem: "client",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// States lists the values reported by the state gauge.
var States = []string{"closed", "connecting", "open", "closing"}

type Metrics struct {
	probes         *prometheus.CounterVec
	opens          *prometheus.CounterVec
	drops          *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	hardDisconnect prometheus.Counter
	heartbeats     prometheus.Counter
	state          *prometheus.GaugeVec
	received       *prometheus.CounterVec
	sent           *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	malformed      prometheus.Counter
}

// New registers the collectors. Registering twice on the same registry panics,
// as with any promauto collector.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, o := range opts {
		o(&config)
	}
	factory := promauto.With(config.Registry)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		probes:         counterVec("transport_probes_total", "Transport probes by transport and outcome", "transport", "outcome"),
		opens:          counterVec("transport_opens_total", "Transports that reached the open state", "transport"),
		drops:          counterVec("transport_drops_total", "Open transports that dropped", "transport"),
		fallbacks:      counterVec("transport_fallbacks_total", "Transports that failed before opening", "transport"),
		hardDisconnect: counter("hard_disconnects_total", "Connection cycles in which every transport declined"),
		heartbeats:     counter("heartbeats_total", "Heartbeat ticks"),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state",
			Help:        "1 for the current supervisor state, 0 otherwise",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),
		received:     counterVec("envelopes_received_total", "Inbound envelopes by type", "type"),
		sent:         counterVec("envelopes_sent_total", "Outbound envelopes by kind", "kind"),
		sendFailures: counterVec("send_failures_total", "Outbound envelopes refused because no transport was open", "kind"),
		malformed:    counter("malformed_payloads_total", "Inbound payloads that could not be parsed"),
	}
}

func (m *Metrics) TransportProbed(transport string, accepted bool) {
	if m == nil {
		return
	}
	outcome := "declined"
	if accepted {
		outcome = "accepted"
	}
	m.probes.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) TransportOpened(transport string) {
	if m == nil {
		return
	}
	m.opens.WithLabelValues(transport).Inc()
}

func (m *Metrics) TransportDropped(transport string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(transport).Inc()
}

func (m *Metrics) Fallback(transport string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(transport).Inc()
}

func (m *Metrics) HardDisconnect() {
	if m == nil {
		return
	}
	m.hardDisconnect.Inc()
}

func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

// SetState sets the gauge of state to 1 and every other state to 0.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) EnvelopeReceived(typ string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(typ).Inc()
}

func (m *Metrics) EnvelopeSent(kind string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(kind).Inc()
}

func (m *Metrics) SendFailed(kind string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) MalformedPayload() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}
