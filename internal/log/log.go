package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	logger   *zap.SugaredLogger
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	initOnce sync.Once
)

// initLogger installs a JSON logger on stderr unless Configure or Use ran first.
func initLogger() {
	initOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if logger == nil {
			logger = build("json")
		}
	})
}

func build(format string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encoding := "json"
	if format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoding = "console"
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            level,
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	z, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return z.Sugar()
}

// Configure replaces the process logger. format is "json" (default) or "console".
func Configure(l Level, format string) {
	initOnce.Do(func() {})
	SetLevel(l)
	mu.Lock()
	logger = build(format)
	mu.Unlock()
}

// Use installs an existing zap logger, mainly for tests with zaptest/observer.
func Use(z *zap.Logger) {
	initOnce.Do(func() {})
	mu.Lock()
	logger = z.WithOptions(zap.AddCallerSkip(2)).Sugar()
	mu.Unlock()
}

func SetLevel(l Level) {
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func Debug(msg string, kv ...any) {
	logWithLevel(zapcore.DebugLevel, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(zapcore.InfoLevel, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zapcore.WarnLevel, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(zapcore.ErrorLevel, msg, extended...)
}

func logWithLevel(lvl zapcore.Level, msg string, kv ...any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	// Drop a dangling key; zap would log it as an error otherwise.
	if len(kv)%2 != 0 {
		kv = kv[:len(kv)-1]
	}

	switch lvl {
	case zapcore.DebugLevel:
		l.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		l.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		l.Errorw(msg, kv...)
	default:
		l.Infow(msg, kv...)
	}
}
