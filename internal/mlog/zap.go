package mlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZap builds a ZapLogger. In production mode it emits JSON; otherwise
// it emits a colorized, human-friendly console encoding. Both write to
// stderr.
func NewZap(production bool, levelName string) (*ZapLogger, error) {
	var cfg zap.Config

	if production {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := ParseLevel(levelName)
	if err != nil {
		lvl = InfoLevel
	}

	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(lvl))
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapLogger{s: logger.Sugar()}, nil
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case ErrorLevel:
		return zapcore.ErrorLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case DebugLevel:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *ZapLogger) Info(args ...any)                  { z.s.Info(args...) }
func (z *ZapLogger) Infof(format string, args ...any)  { z.s.Infof(format, args...) }
func (z *ZapLogger) Error(args ...any)                 { z.s.Error(args...) }
func (z *ZapLogger) Errorf(format string, args ...any) { z.s.Errorf(format, args...) }
func (z *ZapLogger) Warn(args ...any)                  { z.s.Warn(args...) }
func (z *ZapLogger) Warnf(format string, args ...any)  { z.s.Warnf(format, args...) }
func (z *ZapLogger) Debug(args ...any)                 { z.s.Debug(args...) }
func (z *ZapLogger) Debugf(format string, args ...any) { z.s.Debugf(format, args...) }

// WithFields returns a derived logger; fields must be an even-length list
// of alternating keys and values, matching zap's With convention.
func (z *ZapLogger) WithFields(fields ...any) Logger {
	return &ZapLogger{s: z.s.With(fields...)}
}

func (z *ZapLogger) Sync() error {
	err := z.s.Sync()
	// Sync on a stdout/stderr fd commonly fails with ENOTTY or EINVAL
	// under a terminal or in CI; it is not an actionable error here.
	if err != nil && os.Getenv("DOGMA_STRICT_LOG_SYNC") == "" {
		return nil
	}

	return err
}
