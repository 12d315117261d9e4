package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoding and baseline fields of the process logger.
type Options struct {
	Level       string
	Environment string
	Service     string
	Version     string
}

// New builds the process logger and replaces zap globals. Development
// gets the console encoder; everything else emits JSON with ISO8601
// timestamps and carries service/version on every line.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := opts.Level
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if opts.Service != "" {
		logger = logger.With(
			zap.String("service", opts.Service),
			zap.String("version", opts.Version),
		)
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}
