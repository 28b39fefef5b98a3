package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"` // json | console
}

var (
	serviceName = "grid_bot"
	base        atomic.Pointer[zap.Logger]
)

func SetServiceName(name string) {
	if name != "" {
		serviceName = name
	}
}

// New собирает логгер процесса и делает его глобальным для Info/Error/Fatal и zap.L().
func New(conf Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if conf.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if conf.Encoding != "" {
		zc.Encoding = conf.Encoding
	}
	if conf.Level != "" {
		lvl, err := zapcore.ParseLevel(conf.Level)
		if err != nil {
			return nil, fmt.Errorf("logger: bad level %q: %w", conf.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zc.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, err
	}
	base.Store(l)
	zap.ReplaceGlobals(l)
	return l, nil
}

// L логгер процесса; до New пишет в никуда.
func L() *zap.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// ForBot логгер одного бота: user_id и symbol во всех записях.
func ForBot(l *zap.Logger, userID int64, symbol string, fields ...zap.Field) *zap.Logger {
	fs := make([]zap.Field, 0, len(fields)+2)
	fs = append(fs, zap.Int64("user_id", userID))
	if symbol != "" {
		fs = append(fs, zap.String("symbol", symbol))
	}
	return l.With(append(fs, fields...)...)
}

func Info(format string, args ...any)  { L().Sugar().Infof(format, args...) }
func Error(format string, args ...any) { L().Sugar().Errorf(format, args...) }
func Fatal(format string, args ...any) { L().Sugar().Fatalf(format, args...) }
