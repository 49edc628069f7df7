package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(dl *DispatcherLogger)
		level string
	}{
		{"debug", func(dl *DispatcherLogger) { dl.Debug("handling frame", "code", "en", "session", 3) }, "DEBUG"},
		{"info", func(dl *DispatcherLogger) { dl.Info("handler registered", "code", "pu", "session", 3) }, "INFO"},
		{"error", func(dl *DispatcherLogger) { dl.Error("frame failed", "code", "gf", "session", 3) }, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			dl := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
			tt.log(dl)

			lines := decodeLines(t, &buf)
			require.Len(t, lines, 1)
			assert.Equal(t, tt.level, lines[0]["level"])
			assert.Equal(t, "dispatcher", lines[0]["component"])
			assert.Equal(t, float64(3), lines[0]["session"])
		})
	}
}

func TestDispatcherLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dl.Debug("frame complete", "code", "mg")
	assert.Empty(t, buf.String())

	dl.Error("frame failed", "code", "mg", "error", "short payload")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "short payload", lines[0]["error"])
}

func TestDispatcherLogger_WithDispatcher(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	d, err := dispatcher.New(dl)
	require.NoError(t, err)

	d.Register(protocol.MsgEnter, func(dispatcher.Event) error { return nil }, dispatcher.Logged())
	require.NoError(t, d.Dispatch(dispatcher.Event{SessionID: 1, Frame: protocol.Frame{Code: protocol.MsgEnter}}))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "handling frame", lines[0]["msg"])
	assert.Equal(t, "en", lines[0]["code"])
	assert.Equal(t, "frame complete", lines[1]["msg"])
}
