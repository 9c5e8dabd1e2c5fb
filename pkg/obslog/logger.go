// Package obslog provides a small leveled logger used by the directory
// service and storage node in place of ad hoc fmt.Printf calls.
package obslog

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Level is a logging verbosity level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// String renders the level's name.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, defaulting to Info on unrecognized input.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return Debug, nil
	case "INFO", "":
		return Info, nil
	case "WARN", "WARNING":
		return Warn, nil
	case "ERROR":
		return Error, nil
	default:
		return Info, fmt.Errorf("invalid log level: %s", s)
	}
}

// Logger is a leveled, component-tagged logger. The zero value is not usable;
// construct with New.
type Logger struct {
	level     Level
	output    io.Writer
	component string
}

// New creates a logger writing to output at the given level.
func New(level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{level: level, output: output}
}

// WithComponent returns a derived logger that prefixes every line with name,
// e.g. a per-SN or per-session logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{level: l.level, output: l.output, component: name}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		fmt.Fprintf(l.output, "[%s] [%s] %s\n", level, l.component, msg)
		return
	}
	fmt.Fprintf(l.output, "[%s] %s\n", level, msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) { l.log(Debug, format, args...) }

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) { l.log(Info, format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) { l.log(Warn, format, args...) }

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) { l.log(Error, format, args...) }

// Open creates (or appends to) a log file, defaulting to stdout when path is empty.
func Open(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f.Close, nil
}
