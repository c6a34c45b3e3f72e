// Package zerolog adapts a github.com/rs/zerolog logger to logger.Logger.
package zerolog

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/carotene/carotene.go/pkg/logger"
)

type Logger struct {
	zl zerolog.Logger
}

var _ logger.Logger = (*Logger)(nil)

// New wraps zl.
func New(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// NewConsole builds a human readable logger writing to w at the given level.
func NewConsole(w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(level).
		With().Timestamp().Logger()
	return New(zl)
}

func (l *Logger) Error(msg string, args ...any) {
	l.zl.Error().Fields(args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.zl.Warn().Fields(args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	l.zl.Info().Fields(args).Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.zl.Debug().Fields(args).Msg(msg)
}
