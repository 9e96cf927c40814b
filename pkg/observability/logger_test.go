package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_ValidLevels(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"DEBUG", zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.level)
			require.NoError(t, err)
			require.NotNil(t, logger)

			assert.True(t, logger.Core().Enabled(tt.expected))
			if tt.expected > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.expected-1), "levels below %s are filtered", tt.expected)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	for _, level := range []string{"", "invalid", "123", "inf@!"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(level)
			require.Error(t, err)
			assert.Nil(t, logger)
			assert.Contains(t, err.Error(), "invalid log level")
		})
	}
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithFields(zap.New(core),
		zap.String("component", "reporter"),
		zap.Int("port", 5000),
	)
	logger = WithFields(logger, zap.String("container", "web"))

	logger.Info("Container action succeeded")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "reporter", fields["component"])
	assert.Equal(t, int64(5000), fields["port"])
	assert.Equal(t, "web", fields["container"])
}
