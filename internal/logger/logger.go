// Package logger builds the process logger and the shared structured fields.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options select the output of the process logger.
type Options struct {
	JSON    bool
	Debug   bool
	Service string
	Version string
}

func (o Options) config() zap.Config {
	level := zapcore.InfoLevel
	if o.Debug {
		level = zapcore.DebugLevel
	}

	encoding := "console"
	if o.JSON {
		encoding = "json"
	}

	return zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "step",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,

			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}
}

// New builds the process logger. Messages are keyed as "step" and every entry
// carries the service name and version when set.
func New(opts Options) (*zap.Logger, error) {
	logger, err := opts.config().Build()
	if err != nil {
		return nil, err
	}

	return WithFields(logger, StringFields(
		StringField{Key: "service", Value: opts.Service},
		StringField{Key: "version", Value: opts.Version},
	)...), nil
}
