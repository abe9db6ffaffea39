package daemonlog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFileLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")

	logger, rotator := New(Options{FilePath: path, JSON: true, Level: "debug"})
	require.NotNil(t, rotator)
	logger.Info("hello", "key", "value")
	require.NoError(t, rotator.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"key":"value"`)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
}

func TestDiscardDoesNotPanic(t *testing.T) {
	Discard().Info("dropped")
}
