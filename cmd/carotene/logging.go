package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/carotene/carotene.go/internal/config"
	"github.com/carotene/carotene.go/pkg/logger"
	zerologadapter "github.com/carotene/carotene.go/pkg/logger/zerolog"
)

// newLogger builds the CLI logger. The returned closer releases the log file and is nil for stdout/stderr.
func newLogger(c config.LogConfig, stderr io.Writer) (logger.Logger, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch c.Output {
	case "stdout":
		w = os.Stdout
	case "", "stderr":
		w = stderr
	default:
		if dir := filepath.Dir(c.Output); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		file := &lumberjack.Logger{
			Filename:   c.Output,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		}
		w, closer = file, file
	}

	switch c.Format {
	case "console":
		return zerologadapter.NewConsole(w, zerologLevel(c.Level)), closer, nil
	case "json":
		return logger.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(c.Level)})), closer, nil
	default:
		return logger.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel(c.Level)})), closer, nil
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
