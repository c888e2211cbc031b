package util

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LoggerConfig selects the encoder, level and sampling of the process logger
type LoggerConfig struct {
	Service string
	// Env is development, staging or production; staging logs like production
	Env   string
	Level string
	// Sampling drops repeated entries past the first 100 per second in
	// production-style environments
	Sampling bool
}

// InitLogger builds the process logger and installs it as zap's global
func InitLogger(cfg LoggerConfig) error {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		parsed, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var config zap.Config
	switch strings.ToLower(cfg.Env) {
	case "production", "staging":
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if !cfg.Sampling {
			config.Sampling = nil
		}
		if cfg.Level == "" {
			level.SetLevel(zapcore.InfoLevel)
		}
	default:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if cfg.Level == "" {
			level.SetLevel(zapcore.DebugLevel)
		}
	}
	config.Level = level

	built, err := config.Build()
	if err != nil {
		return err
	}
	if cfg.Service != "" {
		built = built.With(zap.String("service", cfg.Service), zap.String("env", cfg.Env))
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the process logger, a development logger before InitLogger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
