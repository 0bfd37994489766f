package logger

import (
	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func GetLogger(config *configs.Config) (*zap.Logger, error) {

	var cfg zap.Config
	switch config.Log.Format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(config.Log.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}
