package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is an alias for zap.Logger for consistency
type Logger = *zap.Logger

// Options tunes the logger built by NewLogger
type Options struct {
	// Development switches to a console encoder with colored levels
	Development bool
	// Service is attached to every entry as the "service" field
	Service string
	// Level, when set, is used as the level enabler so it can be changed at runtime
	Level *zap.AtomicLevel
}

// ParseLevel maps a config level string to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger creates a new logger
func NewLogger(level string, opts ...Options) (*zap.Logger, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if o.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var enabler zapcore.LevelEnabler = ParseLevel(level)
	if o.Level != nil {
		o.Level.SetLevel(ParseLevel(level))
		enabler = o.Level
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), enabler)

	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if o.Service != "" {
		log = log.With(zap.String("service", o.Service))
	}

	return log, nil
}
