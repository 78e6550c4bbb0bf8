// Package logging provides a small leveled logger interface so components
// can be tested with a silent logger and run with the standard one.
package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// F is a set of structured fields attached to a log line.
type F map[string]any

// Logger is the logging contract threaded through components.
type Logger interface {
	Debug(msg string, fields ...F)
	Info(msg string, fields ...F)
	Warn(msg string, fields ...F)
	Error(err error, msg string, fields ...F)
}

// Level filters log output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name; unknown names default to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger writes leveled lines to stderr via the standard log package.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}
}

func (l *StdLogger) write(level Level, msg string, err error, fields []F) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", level, msg)
	if err != nil {
		fmt.Fprintf(&sb, " | error: %v", err)
	}
	if len(fields) > 0 && fields[0] != nil {
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[0][k])
		}
	}
	l.logger.Println(sb.String())
}

func (l *StdLogger) Debug(msg string, fields ...F) { l.write(LevelDebug, msg, nil, fields) }
func (l *StdLogger) Info(msg string, fields ...F)  { l.write(LevelInfo, msg, nil, fields) }
func (l *StdLogger) Warn(msg string, fields ...F)  { l.write(LevelWarn, msg, nil, fields) }
func (l *StdLogger) Error(err error, msg string, fields ...F) {
	l.write(LevelError, msg, err, fields)
}

// Nop discards everything; used in tests.
type Nop struct{}

func (Nop) Debug(string, ...F)        {}
func (Nop) Info(string, ...F)         {}
func (Nop) Warn(string, ...F)         {}
func (Nop) Error(error, string, ...F) {}
