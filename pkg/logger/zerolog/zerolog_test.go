package zerolog_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	zl "github.com/carotene/carotene.go/pkg/logger/zerolog"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := zl.New(zerolog.New(buff))

	require.Equal(t, 0, buff.Len())
	l.Info("transport opened", "transport", "polling")

	require.Contains(t, buff.String(), `"message":"transport opened"`)
	require.Contains(t, buff.String(), `"transport":"polling"`)
	require.Contains(t, buff.String(), `"level":"info"`)
}

func TestConsoleLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := zl.NewConsole(buff, zerolog.WarnLevel)

	l.Debug("hidden")
	require.Equal(t, 0, buff.Len())

	l.Warn("hard disconnect", "retry_in", "10s")
	require.Contains(t, buff.String(), "hard disconnect")
	require.Contains(t, buff.String(), "retry_in=10s")
}
