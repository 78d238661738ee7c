// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// Наружу отдаются короткие функции Info/Infof/Error/Errorf и DeferLogDuration, а L() нужен тем, кто принимает *zap.Logger.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const slowCallThreshold = 100 * time.Millisecond

var (
	mu     sync.RWMutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	debug  bool
	prefix string
	once   sync.Once
)

func initDefault() {
	l, err := build(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), "")
	if err != nil {
		l = zap.NewNop()
	}
	install(l, os.Getenv("LOG_LEVEL"))
}

func install(l *zap.Logger, level string) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugar = l.Sugar()
	debug = level == "debug" || level == "trace"
}

func build(level, format, svc string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug", "trace":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encoderCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if svc != "" {
		opts = append(opts, zap.Fields(zap.String("svc", svc)))
	}
	return zap.New(core, opts...), nil
}

// Configure пересобирает логгер с уровнем и форматом из конфигурации ("console" или "json").
func Configure(level, format string) error {
	once.Do(func() {})
	l, err := build(level, format, prefix)
	if err != nil {
		return fmt.Errorf("logger.Configure: %w", err)
	}
	install(l, level)
	return nil
}

// SetPrefix задаёт имя сервиса (поле svc) для всех последующих логов.
func SetPrefix(p string) {
	once.Do(initDefault)
	mu.Lock()
	prefix = p
	base = base.With(zap.String("svc", p))
	sugar = base.Sugar()
	mu.Unlock()
}

// L возвращает *zap.Logger для библиотек, которые принимают его напрямую (fx, компоненты).
func L() *zap.Logger {
	once.Do(initDefault)
	mu.RLock()
	defer mu.RUnlock()
	return base.WithOptions(zap.AddCallerSkip(-1))
}

func s() *zap.SugaredLogger {
	once.Do(initDefault)
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Sync сбрасывает буферы zap; вызывается при остановке.
func Sync() {
	_ = s().Sync()
}

func Info(v ...any) { s().Info(v...) }

func Infof(format string, v ...any) { s().Infof(format, v...) }

func Warnf(format string, v ...any) { s().Warnf(format, v...) }

func Debugf(format string, v ...any) { s().Debugf(format, v...) }

func Error(v ...any) { s().Error(v...) }

func Errorf(format string, v ...any) { s().Errorf(format, v...) }

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	mu.RLock()
	verbose := debug
	mu.RUnlock()
	if verbose || elapsed >= slowCallThreshold {
		s().Infow("call duration", "fn", fn, "duration_ms", elapsed.Milliseconds())
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
