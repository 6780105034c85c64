package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptionsFormats(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOptions(&buf, Options{Level: "debug", Format: "json"})
	require.NoError(t, err)
	l.Debug("tick committed", "simulation_id", "sim_1", "tick", 3)
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"simulation_id":"sim_1"`)

	buf.Reset()
	l, err = NewWithOptions(&buf, Options{Level: "warn"})
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	_, err = NewWithOptions(&buf, Options{Format: "xml"})
	assert.Error(t, err)
	_, err = NewWithOptions(&buf, Options{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestContextRoundTrip(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
	l := Discard()
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
}
