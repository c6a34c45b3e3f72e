package carotene

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/logger"
	"github.com/carotene/carotene.go/pkg/metrics"
	"github.com/carotene/carotene.go/pkg/stream"
)

// WebSocket engines accepted by Config.WebSocketEngine.
const (
	EngineGorilla = "gorilla"
	EngineGWS     = "gws"
)

// Config holds the settings of a Client.
// Use NewConfig to get one with every default filled in.
type Config struct {
	// Address is the server URL. A ws:// or wss:// address enables every transport.
	// An http:// or https:// address skips the WebSocket.
	Address string

	// UserID and Token are the credentials sent on every open.
	// An empty UserID leaves the credentials set by Client.Authenticate untouched.
	UserID string
	Token  string

	DisableWebSocket  bool
	EnableEventSource bool
	DisablePolling    bool

	// WebSocketEngine is EngineGorilla (default) or EngineGWS.
	WebSocketEngine string

	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	BackoffJitter     float64
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	HandshakeTimeout  time.Duration
	HTTPTimeout       time.Duration

	// HTTPClient is used by the event stream and polling transports.
	// When nil, a client with HTTPTimeout is created.
	HTTPClient *http.Client

	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Clock schedules the backoff and heartbeat timers. Tests replace it.
	Clock stream.Clock

	// Transports overrides the transport preference list built from the settings above.
	Transports []connection.Descriptor
}

// NewConfig returns a Config for the server at address with the default timings.
func NewConfig(address string) *Config {
	return &Config{
		Address:           address,
		WebSocketEngine:   EngineGorilla,
		MinBackoff:        stream.DefaultMinBackoff,
		MaxBackoff:        stream.DefaultMaxBackoff,
		HeartbeatInterval: stream.DefaultHeartbeatInterval,
		PollInterval:      connection.DefaultPollInterval,
		HandshakeTimeout:  connection.DefaultHandshakeTimeout,
		HTTPTimeout:       connection.DefaultHTTPTimeout,
	}
}

// Validate checks the Config. Zero durations are accepted and replaced by defaults.
func (c *Config) Validate() error {
	if len(c.Transports) == 0 {
		if c.Address == "" {
			return ErrNoAddress
		}
		if _, err := c.connectionConfig(); err != nil {
			return err
		}
	}

	switch c.WebSocketEngine {
	case "", EngineGorilla, EngineGWS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.WebSocketEngine)
	}

	minDelay, maxDelay := c.backoffBounds()
	if minDelay > maxDelay {
		return fmt.Errorf("%w: min %s > max %s", ErrInvalidBackoff, minDelay, maxDelay)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return fmt.Errorf("%w: jitter %v not in [0, 1]", ErrInvalidBackoff, c.BackoffJitter)
	}
	return nil
}

func (c *Config) backoffBounds() (time.Duration, time.Duration) {
	return orDefault(c.MinBackoff, stream.DefaultMinBackoff), orDefault(c.MaxBackoff, stream.DefaultMaxBackoff)
}

func (c *Config) backoff() *stream.Backoff {
	b := stream.NewBackoff()
	b.MinDelay, b.MaxDelay = c.backoffBounds()
	if c.BackoffJitter > 0 {
		b.Jitter = true
		b.JitterFactor = c.BackoffJitter
	}
	return b
}

// connectionConfig translates the Config into the settings shared by the transports.
func (c *Config) connectionConfig() (*connection.Config, error) {
	u, err := url.Parse(c.Address)
	if err != nil {
		return nil, fmt.Errorf("carotene: parse address: %w", err)
	}

	cc := connection.NewConfig(u)
	cc.Options = connection.Options{
		DisableWebSocket:   c.DisableWebSocket,
		DisableEventSource: !c.EnableEventSource,
		DisablePolling:     c.DisablePolling,
	}
	cc.HandshakeTimeout = orDefault(c.HandshakeTimeout, connection.DefaultHandshakeTimeout)
	cc.PollInterval = orDefault(c.PollInterval, connection.DefaultPollInterval)
	if c.HTTPClient != nil {
		cc.HTTPClient = c.HTTPClient
	} else {
		cc.HTTPClient = &http.Client{Timeout: orDefault(c.HTTPTimeout, connection.DefaultHTTPTimeout)}
	}
	cc.Logger = logger.OrDiscard(c.Logger)

	if err := cc.Validate(); err != nil {
		return nil, err
	}
	return cc, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
