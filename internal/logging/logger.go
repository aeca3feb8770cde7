package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func levelString(l Level) string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger defines a minimal, printf-style logging contract so packages can
// depend on it without knowing about the concrete sink.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// sink is the shared write target behind every component logger.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	file   *os.File
	level  Level
	logger *log.Logger
}

var (
	defaultSink     *sink
	defaultSinkOnce sync.Once
)

func getSink() *sink {
	defaultSinkOnce.Do(func() {
		defaultSink = &sink{out: os.Stderr, level: InfoLevel}
		defaultSink.logger = log.New(defaultSink, "", 0)
	})
	return defaultSink
}

// Write fans a formatted line out to the configured destinations.
func (s *sink) Write(p []byte) (int, error) {
	if s.file != nil {
		_, _ = s.file.Write(p)
	}
	if s.out != nil {
		_, _ = s.out.Write(p)
	}
	return len(p), nil
}

// Setup configures the process-wide log level and, when dir is non-empty,
// attaches a file sink at dir/meshbot.log. Called once at startup.
func Setup(level string, dir string) error {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = ParseLevel(level)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, "meshbot.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	s.file = file
	return nil
}

// Close releases the file sink if one was configured.
func Close() error {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

type componentLogger struct {
	sink      *sink
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{sink: getSink(), component: component}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	s.logger.Printf("%s [%s] [%s] %s", timestamp, levelString(level), l.component, message)
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(DebugLevel, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(InfoLevel, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(WarnLevel, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(ErrorLevel, format, args...) }
