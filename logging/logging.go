// Package logging builds the zap loggers used by rpcctl and the tests.
// Library packages never log unless handed a logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "FORMRPC_LOG_LEVEL"
	EnvLogFormat = "FORMRPC_LOG_FORMAT" // "console" or "json"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger configuration.
type Config struct {
	Level  zapcore.Level
	Format string
}

// DefaultConfig returns the profile defaults before env overrides.
func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zapcore.DebugLevel, Format: "console"}
	default:
		return Config{Level: zapcore.InfoLevel, Format: "json"}
	}
}

// New builds a logger for profile with environment overrides applied.
// level, when non-empty, takes precedence over the environment.
func New(profile Profile, level string) (*zap.Logger, error) {
	cfg := DefaultConfig(profile)
	applyEnvOverrides(&cfg)
	if level != "" {
		lvl, ok := ParseLevel(level)
		if !ok {
			return nil, fmt.Errorf("logging: unknown level %q", level)
		}
		cfg.Level = lvl
	}
	return Build(cfg)
}

// Build turns cfg into a logger writing to stderr.
func Build(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))) {
	case "console", "text":
		cfg.Format = "console"
	case "json":
		cfg.Format = "json"
	}
}

// ParseLevel accepts the usual level names plus "off" and friends, which map
// above fatal so nothing is emitted.
func ParseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "disabled", "off", "none":
		return zapcore.FatalLevel + 1, true
	default:
		return zapcore.InfoLevel, false
	}
}
