// Package logging provides structured logging for the go-sqpoll project
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with ring-group structured fields
type Logger struct {
	zlog  zerolog.Logger
	async *asyncWriter
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a
// LogLevel. Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return LevelInfo
	}
	return LogLevel(lvl)
}

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter wraps an io.Writer with an async buffered channel
// so that logging from the completion loop never blocks on the terminal.
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	aw.mu.Unlock()

	// p is reused by zerolog
	msg := make([]byte, len(p))
	copy(msg, p)

	// Drop on a full buffer
	select {
	case aw.ch <- msg:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = config.Output
	var async *asyncWriter
	if !config.Sync {
		async = newAsyncWriter(config.Output, 1000)
		output = async
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{
		zlog:  zlog,
		async: async,
	}
}

// Flush drains an asynchronous logger's buffer. It is a no-op for
// synchronous loggers. The logger must not be used afterwards.
func (l *Logger) Flush() {
	if l.async != nil {
		l.async.Close()
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithRing returns a logger with ring index context
func (l *Logger) WithRing(index int) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Int("ring", index).Logger(),
		async: l.async,
	}
}

// WithVariant returns a logger with scenario variant context
func (l *Logger) WithVariant(name string) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Str("variant", name).Logger(),
		async: l.async,
	}
}

// WithRequest returns a logger with per-read context
func (l *Logger) WithRequest(index uint64, offset uint64) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Uint64("buf", index).Uint64("offset", offset).Logger(),
		async: l.async,
	}
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:  l.zlog.With().Err(err).Logger(),
		async: l.async,
	}
}

func withFields(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	return event
}

// Standard logging methods
func (l *Logger) Debug(msg string, args ...any) {
	withFields(l.zlog.Debug(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	withFields(l.zlog.Info(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	withFields(l.zlog.Warn(), args).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	withFields(l.zlog.Error(), args).Msg(msg)
}

// Ring lifecycle helpers

// RingCreated logs a successful ring setup.
func (l *Logger) RingCreated(index, fd int, sqpoll, attached bool) {
	l.zlog.Debug().
		Int("ring", index).
		Int("fd", fd).
		Bool("sqpoll", sqpoll).
		Bool("attached", attached).
		Msg("ring created")
}

// BatchComplete logs one submit-and-reap pass on a ring.
func (l *Logger) BatchComplete(index, submitted, completed int, latencyUs int64) {
	l.zlog.Debug().
		Int("ring", index).
		Int("submitted", submitted).
		Int("completed", completed).
		Int64("latency_us", latencyUs).
		Msg("batch complete")
}

// FdSwapped logs the replacement of a ring descriptor by its duplicate.
func (l *Logger) FdSwapped(index, oldFd, newFd int) {
	l.zlog.Info().
		Int("ring", index).
		Int("old_fd", oldFd).
		Int("new_fd", newFd).
		Msg("ring fd replaced by duplicate")
}
