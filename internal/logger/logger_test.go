package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithErrorAttachesField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := From(zap.New(core))

	log.WithError(errors.New("boom")).Warn("upstream failed", zap.Int("status", 503))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "upstream failed", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "boom", fields["error"])
	assert.EqualValues(t, 503, fields["status"])
}

func TestNamedAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := From(zap.New(core)).Named("studio").With(zap.String("studio_id", "abc"))

	log.Debug("dropped below level")
	log.Info("preview started")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "studio", logs.All()[0].LoggerName)
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["studio_id"])
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, LogLevelDebug.zapLevel())
	assert.Equal(t, zapcore.WarnLevel, LogLevelWarn.zapLevel())
	assert.Equal(t, zapcore.ErrorLevel, LogLevelError.zapLevel())
	assert.Equal(t, zapcore.InfoLevel, LogLevel("verbose").zapLevel())
}

func TestInitReplacesBase(t *testing.T) {
	require.NoError(t, Init(LogLevelError, false))
	t.Cleanup(func() {
		mu.Lock()
		base = zap.NewNop()
		mu.Unlock()
	})

	log := New()
	assert.False(t, log.Zap().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Zap().Core().Enabled(zapcore.ErrorLevel))
}
