package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, err := New(Config{Level: tt.level, Outputs: []string{"stderr"}})
			require.NoError(t, err)
			assert.True(t, l.Enabled(context.Background(), tt.want))
			assert.False(t, l.Enabled(context.Background(), tt.want-1))
		})
	}
}

func TestNewUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNoneDiscards(t *testing.T) {
	l, err := New(Config{Level: "none"})
	require.NoError(t, err)
	l.Error("not written")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "radio.log")
	l, err := New(Config{Level: "info", Outputs: []string{path}})
	require.NoError(t, err)

	l.Info("State changed", "from", "tx_switch", "to", "tx")
	l.Debug("hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "State changed")
	assert.Contains(t, string(data), "to=tx")
	assert.NotContains(t, string(data), "hidden")
}

func TestInitOnlyOnce(t *testing.T) {
	require.NoError(t, Init(Config{Level: "none"}))
	first := Logger()
	require.NoError(t, Init(Config{Level: "debug"}))
	assert.Same(t, first, Logger())
}
