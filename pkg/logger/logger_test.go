package logger

import (
	"testing"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLogger(t *testing.T) {

	config := &configs.Config{
		Log: configs.LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}

	l, err := GetLogger(config)
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestGetLoggerFallsBackToInfo(t *testing.T) {

	config := &configs.Config{
		Log: configs.LogConfig{
			Level: "verbose",
		},
	}

	l, err := GetLogger(config)
	require.NoError(t, err)

	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
