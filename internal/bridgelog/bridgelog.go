// Package bridgelog builds the zap loggers used across the bridge: a
// colorized console encoder for terminals, with an optional plain file sink,
// mirroring the upstream Rust service's custom tracing formatter.
package bridgelog

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction for one instance.
type Options struct {
	Level      string
	Instance   string
	LogToFile  bool
	LogFileDir string
}

// New builds a *zap.Logger honoring Options. When Options.Instance is set,
// the returned logger carries an "instance" field so multiplexed instances
// are distinguishable in shared output.
func New(opts Options) (*zap.Logger, error) {
	level := parseLevel(opts.Level)

	consoleEnc := zapcore.NewConsoleEncoder(encoderConfig(true))
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	if opts.LogToFile {
		dir := opts.LogFileDir
		if dir == "" {
			dir = "."
		}
		path := fmt.Sprintf("%s/bridge-%s-%s.log", dir, opts.Instance, time.Now().UTC().Format("20060102"))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		plainEnc := zapcore.NewConsoleEncoder(encoderConfig(false))
		cores = append(cores, zapcore.NewCore(plainEnc, zapcore.AddSync(f), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if opts.Instance != "" {
		logger = logger.With(zap.String("instance", opts.Instance))
	}
	return logger, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig(colorize bool) zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if colorize {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg
}

// Tag markers used consistently across session/validator log lines, matching
// the upstream bridge's bracketed direction tags.
const (
	TagAsicToBridge = "[ASIC->BRIDGE]"
	TagBridgeToAsic = "[BRIDGE->ASIC]"
	TagValidation   = "[VALIDATION]"
	TagBlock        = "[BLOCK]"
)
