package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the diagnostics sink shared by every package. A nil *Logger is
// valid and discards everything, so library code can take one optionally.
type Logger struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool
	out          io.Writer
	fileSink     *fileSink
	mu           sync.RWMutex
	nextID       int
	observers    map[int]func(Event)
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	logger := &Logger{
		pretty:    shouldPrettyPrint(),
		out:       os.Stderr,
		observers: map[int]func(Event){},
	}
	logger.debugEnabled.Store(debug)
	logger.terminalOut.Store(true)
	return logger
}

// Discard returns a logger that never writes to the terminal. Observers still
// receive events.
func Discard() *Logger {
	logger := New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug lines always reach the file sink; terminal and observers only see
	// them when debug output is on.
	l.log(slog.LevelDebug, msg, fields, l.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) DebugEnabled() bool {
	if l == nil {
		return false
	}
	return l.debugEnabled.Load()
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.debugEnabled.Store(enabled)
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.terminalOut.Store(enabled)
}

func (l *Logger) EnableFilePersistence(dir string, maxBytes int64) error {
	if l == nil {
		return nil
	}
	sink, err := newFileSink(dir, maxBytes)
	if err != nil {
		return err
	}
	l.mu.Lock()
	old := l.fileSink
	l.fileSink = sink
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	sink := l.fileSink
	l.fileSink = nil
	l.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// Subscribe registers an observer for published events and returns a func
// that removes it.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.observers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr, publish bool) {
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}
	l.mu.RLock()
	sink := l.fileSink
	l.mu.RUnlock()
	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if !publish {
		return
	}
	if l.terminalOut.Load() {
		l.emit(event)
	}
	l.publish(event)
}

func (l *Logger) emit(event Event) {
	if l.pretty {
		_, _ = io.WriteString(l.out, FormatEventANSI(event))
		return
	}
	_, _ = io.WriteString(l.out, FormatEventLine(event))
}

func (l *Logger) publish(event Event) {
	l.mu.RLock()
	if len(l.observers) == 0 {
		l.mu.RUnlock()
		return
	}
	callbacks := make([]func(Event), 0, len(l.observers))
	for _, cb := range l.observers {
		callbacks = append(callbacks, cb)
	}
	l.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if key, value := resolveAttr(attr); key != "" {
			values[key] = value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func resolveAttr(attr slog.Attr) (string, any) {
	if attr.Key == "" {
		return "", nil
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return attr.Key, value.Any()
	}
	inner := map[string]any{}
	for _, groupAttr := range value.Group() {
		if key, val := resolveAttr(groupAttr); key != "" {
			inner[key] = val
		}
	}
	return attr.Key, inner
}
