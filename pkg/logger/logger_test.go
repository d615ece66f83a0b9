package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "wallet.log")

	l, err := New(Config{Level: "info", File: file, Console: &console})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("balance updated", zap.String("account", "alice"))
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "balance updated")
	assert.NotContains(t, console.String(), "hidden")

	payload, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"msg":"balance updated"`)
	assert.Contains(t, string(payload), `"account":"alice"`)
}

func TestLogger_SetLevel(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Config{Console: &console})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l.Level())

	require.NoError(t, l.SetLevel("debug"))
	l.Debug("now visible")
	assert.Contains(t, console.String(), "now visible")

	assert.Error(t, l.SetLevel("loud"))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)
}
