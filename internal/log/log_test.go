package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/multidoc/gateway/internal/log"

	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	parent := log.ContextAttrs(t.Context(), slog.String("cmd", "serve"))
	a := log.ContextAttrs(parent, slog.String("request_id", "a"))
	b := log.ContextAttrs(parent, slog.String("request_id", "b"))

	logger.InfoContext(a, "first")
	logger.InfoContext(b, "second")
	logger.DebugContext(a, "hidden")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "first", first["msg"])
	require.Equal(t, "serve", first["cmd"])
	require.Equal(t, "a", first["request_id"])
	require.Equal(t, "second", second["msg"])
	require.Equal(t, "b", second["request_id"])
}

func TestVerbose(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, true).With("component", "test")
	logger.DebugContext(log.ContextAttrs(t.Context(), slog.Int("pid", 42)), "visible")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "DEBUG", rec["level"])
	require.Equal(t, "test", rec["component"])
	require.EqualValues(t, 42, rec["pid"])
}
