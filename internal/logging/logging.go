// Package logging builds the zap loggers used by the equinox binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	// Env is "dev" (console, colored levels) or "prod" (JSON). Empty means dev.
	Env string
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Service, when set, is attached to every entry.
	Service string
	// Output defaults to stderr.
	Output io.Writer
}

// ParseLevel maps a level name to a zapcore.Level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}

// CheckEnv validates an Env value.
func CheckEnv(env string) error {
	switch strings.ToLower(env) {
	case "", "dev", "prod":
		return nil
	default:
		return fmt.Errorf("logging: unknown env %q", env)
	}
}

// New builds a logger for cfg.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if err := CheckEnv(cfg.Env); err != nil {
		return nil, err
	}

	var (
		enc  zapcore.Encoder
		opts []zap.Option
	)
	if strings.ToLower(cfg.Env) == "prod" {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewJSONEncoder(ec)
		opts = append(opts, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		ec.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewConsoleEncoder(ec)
		opts = append(opts, zap.AddCaller())
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := zap.New(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level), opts...)
	if cfg.Service != "" {
		l = l.With(zap.String("service", cfg.Service))
	}
	return l, nil
}
