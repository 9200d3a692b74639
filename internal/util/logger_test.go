package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{level: "debug", expected: zapcore.DebugLevel},
		{level: " INFO ", expected: zapcore.InfoLevel},
		{level: "warning", expected: zapcore.WarnLevel},
		{level: "warn", expected: zapcore.WarnLevel},
		{level: "error", expected: zapcore.ErrorLevel},
		{level: "verbose", expected: zapcore.InfoLevel},
		{level: "", expected: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	logger, err := NewLogger(Options{Environment: "production", Level: "warn", Format: "json", Service: "walletpass-service"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(Options{Environment: "development", Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInit_InstallsGlobalLogger(t *testing.T) {
	logger, err := Init(Options{Environment: "development", Level: "error"})
	require.NoError(t, err)
	assert.Same(t, logger, Get())
	assert.Same(t, logger, zap.L())
}

func TestPhoneFieldIsMasked(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("Code issued", Phone("phone_number", "+15551234567"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "+15****4567", entries[0].ContextMap()["phone_number"])
}
