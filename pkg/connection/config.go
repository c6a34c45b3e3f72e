package connection

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/carotene/carotene.go/pkg/logger"
)

// Options toggles individual transports, in the same spirit as the browser client options.
type Options struct {
	DisableWebSocket   bool
	DisableEventSource bool
	DisablePolling     bool
}

// Config is shared by every transport of one supervisor.
type Config struct {
	// URL is the server address. ws/wss addresses enable every transport,
	// http/https addresses disable the duplex socket.
	URL url.URL

	Options Options

	// HTTPClient is used by the HTTP fallback transports.
	HTTPClient *http.Client

	HandshakeTimeout time.Duration
	PollInterval     time.Duration

	// Session holds the server-assigned connection id, shared by all HTTP transports.
	Session *Session

	Logger logger.Logger
}

// NewConfig creates a Config with defaults for the server at u.
func NewConfig(u *url.URL) *Config {
	return &Config{
		URL: *u,
		HTTPClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		HandshakeTimeout: DefaultHandshakeTimeout,
		PollInterval:     DefaultPollInterval,
		Session:          &Session{},
		Logger:           logger.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// Validate checks that the Config can be used by the transports.
func (c *Config) Validate() error {
	if c.URL.Host == "" {
		return ErrNoURL
	}
	switch c.URL.Scheme {
	case "ws", "wss", "http", "https":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, c.URL.Scheme)
	}
}

// IsHTTP reports whether the configured address is a plain HTTP one,
// in which case the duplex socket transport is not attempted.
func (c *Config) IsHTTP() bool {
	return c.URL.Scheme == "http" || c.URL.Scheme == "https"
}

// WebSocketURL returns the address with a ws/wss scheme.
func (c *Config) WebSocketURL() string {
	u := c.URL
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}

// HTTPURL returns the address used by the HTTP fallback transports.
func (c *Config) HTTPURL() string {
	u := c.URL
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String()
}

func (c *Config) Client() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Config) Log() logger.Logger {
	return logger.OrDiscard(c.Logger)
}

// Session stores the connection id assigned by the server on first contact.
type Session struct {
	mu sync.RWMutex
	id string
}

func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetID stores id and reports whether it differs from the previous one.
func (s *Session) SetID(id string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.id != id
	s.id = id
	return changed
}

// ApplyHeaders sets the headers every HTTP fallback request carries.
func (s *Session) ApplyHeaders(h http.Header) {
	h.Set(HeaderTransport, TransportPolling)
	if id := s.ID(); id != "" {
		h.Set(HeaderConnectionID, id)
	}
}
