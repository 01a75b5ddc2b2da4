package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	previous := logger
	core, logs := observer.New(zapcore.DebugLevel)
	logger = zap.New(core).Sugar()
	t.Cleanup(func() { logger = previous })
	return logs
}

func TestLogOperation(t *testing.T) {
	logs := observe(t)

	LogOperation("search \"artist title\"", time.Now(), nil)
	LogOperation("retrieve song.mp3 from peer", time.Now(), errors.New("transfer rejected"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, `Operation 'search "artist title"' completed`, entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Contains(t, entries[1].Message, "transfer rejected")
}

func TestDebugModeTogglesLevel(t *testing.T) {
	t.Cleanup(func() { SetDebugMode(false) })

	SetDebugMode(true)
	assert.True(t, IsDebugMode())
	assert.True(t, level.Enabled(zapcore.DebugLevel))

	logs := observe(t)
	LogOperation("search", time.Now(), nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)

	SetDebugMode(false)
	assert.False(t, IsDebugMode())
	assert.False(t, level.Enabled(zapcore.DebugLevel))
}
