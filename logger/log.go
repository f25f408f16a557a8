package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	log   atomic.Pointer[zap.Logger]
)

func init() {
	log.Store(newConsole(os.Stdout))
}

func newConsole(w zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		w,
		level,
	)

	// AddCallerSkip(1): callers see their own file, not this wrapper.
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// L returns the current logger.
func L() *zap.Logger { return log.Load() }

// SetLogger swaps the package logger, tests use zap.NewNop() or zaptest.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	log.Store(l)
}

// SetLevel accepts debug/info/warn/error; unknown values keep the current level.
func SetLevel(s string) {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return
	}
	level.SetLevel(lv)
}

func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }

func Sync() { _ = L().Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	L().Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	L().Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	L().Debug(fmt.Sprintf(format, args...))
}
