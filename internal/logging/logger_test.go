package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"verbose": DefaultLevel,
		"":        DefaultLevel,
	}
	for input, want := range cases {
		require.Equal(t, want, LevelFromString(input), "input %q", input)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)
	logger.Info("hidden")
	logger.With("session", "ses-1").Warn("visible", "step", 2)
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "visible")
	require.Contains(t, out, "session=ses-1")
	require.Contains(t, out, "step=2")
	require.NotContains(t, out, "\x1b[", "buffers are not terminals")
}

func TestNewFileAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := NewFile(dir, LevelDebug)
	require.NoError(t, err)
	logger.Debug("first")
	require.NoError(t, logger.Close())

	logger, err = NewFile(dir, LevelDebug)
	require.NoError(t, err)
	logger.Error("second")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "first")
	require.Contains(t, lines[1], "second")
}

func TestContextLogger(t *testing.T) {
	require.NotNil(t, Ctx(context.Background()))
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)
	ctx := WithLogger(context.Background(), logger)
	Ctx(ctx).Info("from context")
	require.Contains(t, buf.String(), "from context")
}

func TestTeeWritesToEveryLogger(t *testing.T) {
	var console bytes.Buffer
	fileLogger, err := NewFile(t.TempDir(), LevelInfo)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fileLogger.Close() })

	logger := Tee(New(&console, LevelWarn), fileLogger, nil).With("session", "ses-1")
	logger.Info("only in file")
	logger.Warn("advisory write failed", "op", "record delegation")

	require.NotContains(t, console.String(), "only in file")
	require.Contains(t, console.String(), "advisory write failed")
	require.Contains(t, console.String(), "ses-1")

	data, err := os.ReadFile(filepath.Join(filepath.Dir(fileLogger.file.Name()), FileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "only in file")
	require.Contains(t, string(data), "advisory write failed")
}

func TestTeeCollapses(t *testing.T) {
	require.Equal(t, NewNop(), Tee())
	single := NewNop()
	require.Equal(t, single, Tee(nil, single))
}
