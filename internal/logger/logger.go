// Package logger предоставляет логирование с префиксом компонента и асинхронной записью,
// чтобы не блокировать цикл событий клиента. Запись идёт через zap; поддерживается
// логирование времени выполнения функций.
package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const asyncBufferSize = 8192

var (
	prefix atomic.Value // string
	ch     chan entry
	once   sync.Once

	// logLevel хранит level; читается из любой горутины.
	logLevel atomic.Int32

	sinkMu sync.RWMutex
	sink   *zap.Logger
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelError
)

func init() {
	logLevel.Store(int32(levelInfo))
}

func currentLevel() level { return level(logLevel.Load()) }

type entry struct {
	lvl level
	msg string
}

func initLevel() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		logLevel.Store(int32(levelDebug))
	default:
		logLevel.Store(int32(levelInfo))
	}
}

func newDefaultSink() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return l
}

func current() *zap.Logger {
	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s != nil {
		return s
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sink == nil {
		sink = newDefaultSink()
	}
	return sink
}

func initWorker() {
	initLevel()
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			s := current()
			switch e.lvl {
			case levelDebug:
				s.Debug(e.msg)
			case levelError:
				s.Error(e.msg)
			default:
				s.Info(e.msg)
			}
		}
	}()
}

func enqueue(lvl level, msg string) {
	once.Do(initWorker)
	if lvl < currentLevel() {
		return
	}
	select {
	case ch <- entry{lvl: lvl, msg: msg}:
	default:
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "chatcli", "inspect").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetOutput заменяет zap-логгер, в который пишет воркер. nil возвращает логгер по умолчанию.
// В тестах: logger.SetOutput(zap.NewNop()).
func SetOutput(l *zap.Logger) {
	sinkMu.Lock()
	sink = l
	sinkMu.Unlock()
}

// SetLevel переопределяет уровень, заданный через LOG_LEVEL ("debug" или "info").
func SetLevel(name string) {
	once.Do(initWorker)
	switch name {
	case "debug", "trace":
		logLevel.Store(int32(levelDebug))
	case "":
	default:
		logLevel.Store(int32(levelInfo))
	}
}

// Sync сбрасывает буферы zap (вызывать перед выходом из процесса).
func Sync() {
	_ = current().Sync()
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if currentLevel() == levelDebug || elapsed >= 100*time.Millisecond {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
