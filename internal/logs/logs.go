// Package logs holds the process-wide structured logger.
package logs

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

var logger atomic.Pointer[zap.SugaredLogger]

func init() {
	logger.Store(zap.NewNop().Sugar())
}

// Init replaces the process logger according to cfg.
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	l, err := zc.Build()
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the process logger.
func Set(l *zap.Logger) {
	logger.Store(l.Sugar())
}

func L() *zap.SugaredLogger {
	return logger.Load()
}

func Sync() {
	_ = L().Sync()
}

func Debugf(template string, args ...interface{}) {
	L().Debugf(template, args...)
}

func Infof(template string, args ...interface{}) {
	L().Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	L().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	L().Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	L().Fatalf(template, args...)
}
