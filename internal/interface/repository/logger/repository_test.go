package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "DEBUG", FormatJSON)

	l.Error("Failed to delete stale cache store", errors.New("disk full"), map[string]interface{}{
		"store": "tartu-bussid-v1.2.2",
	})

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "Failed to delete stale cache store", rec["msg"])
	assert.Equal(t, "tartu-bussid-v1.2.2", rec["store"])
	assert.Equal(t, "disk full", rec["error"])
}

func TestRepository_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "WARN", FormatText)

	l.Debug("debug", nil)
	l.Info("info", nil)
	assert.Empty(t, buf.String())

	l.Warn("Cache lookup failed", map[string]interface{}{"url": "https://bussid.example/app/"})
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="Cache lookup failed"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestRepository_FileRotation(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Dir:      dir,
		Filename: "worker.log",
		Level:    "INFO",
		Rotation: &RotationConfig{MaxSize: 64, MaxAge: time.Hour, MaxBackups: 3},
	})
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Info("Shell precached", map[string]interface{}{"cached": 5, "failed": 0})
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "worker.log.*"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)

	data, err := os.ReadFile(filepath.Join(dir, "worker.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "Shell precached"))
}

func TestCleanOldLogs_MaxBackups(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "worker.log")

	for i := 0; i < 4; i++ {
		p := base + "." + string(rune('a'+i))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		mt := time.Now().Add(-time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}

	require.NoError(t, cleanOldLogs(base, &RotationConfig{MaxAge: time.Hour, MaxBackups: 2}))

	left, err := filepath.Glob(base + ".*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{base + ".a", base + ".b"}, left)
}
