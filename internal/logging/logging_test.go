package logging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"DEBUG": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"trace": zapcore.Level(-2),
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kbcheck.log")
	l, err := New(Options{Level: "info", File: path})
	require.NoError(t, err)

	l.WithName("checker").Info("Keyboard monitoring started", "queue", 256)
	l.V(1).Info("Key pressed", "text", "secret")
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1, "debug output is filtered at info")
	assert.Equal(t, "Keyboard monitoring started", lines[0][MessageKey])
	assert.Equal(t, "checker", lines[0]["logger"])
	assert.EqualValues(t, 256, lines[0]["queue"])
	assert.Contains(t, lines[0], TimeStampKey)
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbcheck.log")
	l, err := New(Options{File: path})
	require.NoError(t, err)

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
	l.V(1).Info("Key pressed")
	l.V(2).Info("Converted text")

	require.NoError(t, l.SetLevel("trace"))
	l.V(2).Info("Converted text")
	assert.Error(t, l.SetLevel("nope"))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "Key pressed", lines[0][MessageKey])
	assert.Equal(t, "Converted text", lines[1][MessageKey])
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "verbose"})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("nothing")
	assert.NoError(t, l.Close())
}

func TestDefaultFile(t *testing.T) {
	t.Setenv("LOCALAPPDATA", filepath.Join("C:", "Users", "me", "AppData", "Local"))
	assert.Equal(t, filepath.Join("C:", "Users", "me", "AppData", "Local", "kbcheck", "logs", "kbcheck.log"), DefaultFile())
}

func TestIgnorableSyncErrors(t *testing.T) {
	assert.True(t, isIgnorableSyncError(&os.PathError{Op: "sync", Path: "/dev/stderr", Err: syscall.EINVAL}))
	assert.True(t, isIgnorableSyncError(errors.New("sync /dev/stderr: The handle is invalid.")))
	assert.False(t, isIgnorableSyncError(errors.New("disk full")))
}

func TestContext(t *testing.T) {
	l := Discard()
	ctx := WithLogger(context.Background(), l.WithName("cli"))
	assert.NotNil(t, FromContext(ctx).GetSink())
	assert.NotPanics(t, func() { FromContext(context.Background()).Info("ignored") })
}
