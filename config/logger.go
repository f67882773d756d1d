package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: JSON with sampling in production,
// console output otherwise. Level overrides the environment default.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Environment == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	return zc.Build(zap.AddStacktrace(zap.ErrorLevel))
}
