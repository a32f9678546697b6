// Package logger: логирование с префиксом сервиса. Запись идёт через буферизованный канал
// и отдельную горутину, поэтому вызовы из колбэков присутствия и хаба не блокируются на I/O.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var (
	prefix   atomic.Value // string
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
	dropped  atomic.Uint64
)

func init() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем вызывающего, считаем потерянные записи.
		dropped.Add(1)
	}
}

// SetPrefix задаёт префикс для всех последующих логов ("api", "push", "presencectl").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет уровень из LOG_LEVEL (используется config.Load после чтения YAML).
func SetLevel(s string) {
	logLevel.Store(int32(parseLevel(s)))
}

// Dropped возвращает число записей, потерянных из-за переполнения буфера.
func Dropped() uint64 {
	return dropped.Load()
}

func enabled(l level) bool {
	return level(logLevel.Load()) <= l
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if !enabled(levelDebug) {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	if !enabled(levelInfo) {
		return
	}
	enqueue(tag() + fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	if !enabled(levelInfo) {
		return
	}
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// При уровне info пишутся только вызовы дольше 100ms; при debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(levelDebug) || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("presence.Put", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
