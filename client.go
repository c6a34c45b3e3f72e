package carotene

import (
	"fmt"
	"slices"
	"sync"

	"github.com/carotene/carotene.go/pkg/envelope"
	"github.com/carotene/carotene.go/pkg/logger"
	"github.com/carotene/carotene.go/pkg/metrics"
	"github.com/carotene/carotene.go/pkg/stream"
)

// Client multiplexes named publish/subscribe channels over one resilient stream.
//
// A Client is created unconnected by New, so that subscriptions and credentials
// can be registered before Init opens the stream. All methods are safe for
// concurrent use. Callbacks run one at a time, in the order the server sent
// the envelopes, and may call back into the Client.
type Client struct {
	// replayMu orders the replay on open against the immediate sends of
	// Subscribe and Authenticate. It is taken before mu.
	replayMu sync.Mutex
	// replayed is the stream session whose replay has completed.
	replayed uint64

	// mu guards every field below. It is never held while calling into the stream or a callback.
	mu           sync.Mutex
	stream       *stream.Stream
	logger       logger.Logger
	metrics      *metrics.Metrics
	channels     map[string]func(Message)
	userID       string
	token        string
	onPresence   func(Presence)
	onInfo       func(Info)
	onDisconnect func()
}

func New() *Client {
	return &Client{
		logger:   logger.Discard(),
		channels: make(map[string]func(Message)),
	}
}

// Init records the address and credentials of cfg and opens the stream.
// It returns ErrAlreadyInitialized when called twice.
func (c *Client) Init(cfg *Config) error {
	if cfg == nil {
		return ErrNoAddress
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	transports, err := cfg.transports()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if cfg.UserID != "" {
		c.userID, c.token = cfg.UserID, cfg.Token
	}
	c.logger = logger.OrDiscard(cfg.Logger)
	c.metrics = cfg.Metrics

	opts := []stream.Option{
		stream.WithBackoff(cfg.backoff()),
		stream.WithHeartbeatInterval(orDefault(cfg.HeartbeatInterval, stream.DefaultHeartbeatInterval)),
		stream.WithLogger(c.logger),
		stream.WithMetrics(c.metrics),
	}
	if cfg.Clock != nil {
		opts = append(opts, stream.WithClock(cfg.Clock))
	}
	s := stream.New(transports, stream.HandlerFuncs{
		Open:       c.handleOpen,
		Message:    c.handleMessage,
		Close:      c.handleClose,
		Heartbeat:  c.handleHeartbeat,
		Disconnect: c.handleDisconnect,
	}, opts...)
	c.stream = s
	c.mu.Unlock()

	s.Open()
	return nil
}

// Subscribe registers onMessage for channel, replacing any previous callback.
// The subscription is sent right away when the stream is open, and on every later open.
func (c *Client) Subscribe(channel string, onMessage func(Message)) error {
	if channel == "" {
		return ErrNoChannel
	}
	if onMessage == nil {
		return fmt.Errorf("carotene: nil callback for channel %q", channel)
	}

	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	c.mu.Lock()
	c.channels[channel] = onMessage
	c.mu.Unlock()

	if !c.replayDone() {
		return nil
	}
	data, err := envelope.Subscribe(channel)
	if err != nil {
		return err
	}
	return c.send(envelope.KindSubscribe, data)
}

// Unsubscribe forgets the callback of channel. The server has no unsubscribe
// request, so later messages for the channel are dropped on arrival.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

// Channels returns the subscribed channel names, sorted.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedChannels()
}

// Publish sends message to channel. The message is serialized to JSON.
// Nothing is buffered: when the stream is not open, ErrNotConnected is returned.
func (c *Client) Publish(channel string, message any) error {
	if channel == "" {
		return ErrNoChannel
	}
	data, err := envelope.Publish(channel, message)
	if err != nil {
		return fmt.Errorf("carotene: encode publish: %w", err)
	}
	return c.send(envelope.KindPublish, data)
}

// Authenticate stores the credentials and sends them right away when the stream is open.
// They are sent again on every later open. An empty userID stays unauthenticated:
// nothing is sent for it.
func (c *Client) Authenticate(userID, token string) error {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	c.mu.Lock()
	c.userID, c.token = userID, token
	c.mu.Unlock()

	if userID == "" || !c.replayDone() {
		return nil
	}
	data, err := envelope.Authenticate(userID, token)
	if err != nil {
		return err
	}
	return c.send(envelope.KindAuthenticate, data)
}

// Presence asks for the subscribers of channel. The reply is delivered to the
// callback registered with SetOnPresence.
func (c *Client) Presence(channel string) error {
	if channel == "" {
		return ErrNoChannel
	}
	data, err := envelope.PresenceQuery(channel)
	if err != nil {
		return err
	}
	return c.send(envelope.KindPresence, data)
}

func (c *Client) SetOnPresence(fn func(Presence)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = fn
}

func (c *Client) SetOnInfo(fn func(Info)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInfo = fn
}

// SetOnDisconnect registers fn to be called when every transport failed.
// The client keeps retrying in the background.
func (c *Client) SetOnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Close closes the stream and stops reconnecting. Subscriptions and
// credentials are kept.
func (c *Client) Close() error {
	s := c.getStream()
	if s == nil {
		return ErrNotInitialized
	}
	s.Close()
	return nil
}

// State returns the state of the stream. It is StateClosed before Init.
func (c *Client) State() State {
	s := c.getStream()
	if s == nil {
		return StateClosed
	}
	return s.State()
}

// replayDone reports whether the stream is open and handleOpen already
// replayed the credentials and subscriptions of the current session.
// The caller holds replayMu.
func (c *Client) replayDone() bool {
	s := c.getStream()
	if s == nil || s.State() != StateOpen {
		return false
	}
	return s.Session() == c.replayed
}

func (c *Client) getStream() *stream.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Client) log() logger.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

func (c *Client) observer() *metrics.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) sortedChannels() []string {
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Client) send(kind, data string) error {
	c.mu.Lock()
	s, m, l := c.stream, c.metrics, c.logger
	c.mu.Unlock()

	if s == nil || !s.Send(data) {
		m.SendFailed(kind)
		l.Debug("dropped send, stream not open", "kind", kind)
		return ErrNotConnected
	}
	m.EnvelopeSent(kind)
	return nil
}

// handleOpen authenticates, then restores every subscription.
func (c *Client) handleOpen() {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	session := c.getStream().Session()
	c.mu.Lock()
	userID, token := c.userID, c.token
	channels := c.sortedChannels()
	c.mu.Unlock()

	if userID != "" {
		data, err := envelope.Authenticate(userID, token)
		if err == nil {
			err = c.send(envelope.KindAuthenticate, data)
		}
		if err != nil {
			c.log().Warn("failed to authenticate", "user_id", userID, "error", err)
		}
	}

	for _, channel := range channels {
		data, err := envelope.Subscribe(channel)
		if err == nil {
			err = c.send(envelope.KindSubscribe, data)
		}
		if err != nil {
			c.log().Warn("failed to subscribe", "channel", channel, "error", err)
		}
	}
	c.replayed = session
}

func (c *Client) handleMessage(data string) {
	if data == envelope.Pong {
		return
	}

	envs, err := envelope.Parse([]byte(data))
	if err != nil {
		c.observer().MalformedPayload()
		c.log().Warn("dropping malformed payload", "error", err, "size", len(data))
	}
	for _, env := range envs {
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope.Envelope) {
	c.observer().EnvelopeReceived(env.Type)

	switch env.Type {
	case envelope.TypeMessage:
		c.mu.Lock()
		fn := c.channels[env.Message.Channel]
		c.mu.Unlock()
		if fn == nil {
			c.log().Debug("message for unknown channel", "channel", env.Message.Channel)
			return
		}
		fn(*env.Message)
	case envelope.TypePresence:
		c.mu.Lock()
		fn := c.onPresence
		c.mu.Unlock()
		if fn != nil {
			fn(*env.Presence)
		}
	case envelope.TypeInfo:
		c.mu.Lock()
		fn := c.onInfo
		c.mu.Unlock()
		if fn != nil {
			fn(env.Info)
		}
	}
}

func (c *Client) handleHeartbeat() {
	_ = c.send(envelope.KindPing, envelope.Ping)
}

func (c *Client) handleDisconnect() {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleClose() {
	c.log().Debug("client closed")
}
