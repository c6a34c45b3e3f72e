package stream

import (
	"time"

	"github.com/carotene/carotene.go/pkg/logger"
	"github.com/carotene/carotene.go/pkg/metrics"
)

type Option func(s *Stream)

func WithClock(c Clock) Option {
	return func(s *Stream) {
		s.clock = c
	}
}

func WithBackoff(b *Backoff) Option {
	return func(s *Stream) {
		s.backoff = b
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Stream) {
		s.heartbeatInterval = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Stream) {
		s.logger = logger.OrDiscard(l)
	}
}

// WithMetrics records supervisor activity. A nil m disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stream) {
		s.metrics = m
	}
}
