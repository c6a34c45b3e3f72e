// Package testenv holds helpers shared by tests and examples.
package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogHandler is a slog.Handler that prints the message index (starting from 0),
// the level and the message with its attributes, without the timestamp.
// This allows log output to be asserted in examples.
type LogHandler struct {
	state *logState
	attrs []slog.Attr
	level slog.Level
}

type logState struct {
	mu    sync.Mutex
	w     io.Writer
	index int
}

type LogHandlerOption func(*LogHandler)

// WithWriter sends output to w instead of stdout.
func WithWriter(w io.Writer) LogHandlerOption {
	return func(h *LogHandler) {
		h.state.w = w
	}
}

// WithLevel drops records below level. The default prints everything.
func WithLevel(level slog.Level) LogHandlerOption {
	return func(h *LogHandler) {
		h.level = level
	}
}

func NewLogHandler(opts ...LogHandlerOption) *LogHandler {
	h := &LogHandler{
		state: &logState{w: os.Stdout},
		level: slog.LevelDebug,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var parts []string
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a))
		return true
	})

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	line := fmt.Sprintf("[%d] %s: %s", h.state.index, r.Level, r.Message)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}
	h.state.index++
	_, err := fmt.Fprintln(h.state.w, line)
	return err
}

func formatAttr(a slog.Attr) string {
	if a.Value.Kind() == slog.KindGroup {
		var parts []string
		for _, ga := range a.Value.Group() {
			parts = append(parts, a.Key+"."+formatAttr(ga))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s=%v", a.Key, a.Value)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		state: h.state,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		level: h.level,
	}
}

// WithGroup is not supported; attributes are printed flat.
func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}
