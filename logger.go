package transcode

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
)

// Level is a log level.
type Level int

// Log levels.
const (
	Debug Level = iota + 1
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses the names returned by Level.String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

// Logger receives diagnostics.
type Logger interface {
	Log(level Level, format string, args ...interface{})
}

// LogSink is the host logging function: a formatted message and its length in bytes.
type LogSink interface {
	LogMessage(msg string, length int)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(msg string, length int)

// LogMessage implements LogSink.
func (f LogSinkFunc) LogMessage(msg string, length int) { f(msg, length) }

// SinkLogger formats log entries and hands them to a LogSink.
// Entries carry no timestamp; the host may not have a clock.
type SinkLogger struct {
	sink  LogSink
	level Level

	mutex sync.Mutex
	buf   bytes.Buffer
}

// NewSinkLogger allocates a SinkLogger that drops entries below level.
func NewSinkLogger(sink LogSink, level Level) *SinkLogger {
	return &SinkLogger{
		sink:  sink,
		level: level,
	}
}

func writeLevel(buf *bytes.Buffer, level Level) {
	switch level {
	case Debug:
		buf.WriteString("DEB")
	case Info:
		buf.WriteString("INF")
	case Warn:
		buf.WriteString("WAR")
	case Error:
		buf.WriteString("ERR")
	}
	buf.WriteByte(' ')
}

// Log implements Logger.
func (l *SinkLogger) Log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.buf.Reset()
	writeLevel(&l.buf, level)
	fmt.Fprintf(&l.buf, format, args...)
	l.buf.WriteByte('\n')

	l.sink.LogMessage(l.buf.String(), l.buf.Len())
}

type discardLogger struct{}

func (discardLogger) Log(Level, string, ...interface{}) {}

// prefixLogger tags every entry of one run.
type prefixLogger struct {
	parent Logger
	prefix string
}

func (l *prefixLogger) Log(level Level, format string, args ...interface{}) {
	l.parent.Log(level, "["+l.prefix+"] "+format, args...)
}

// levelLogger drops entries below level.
type levelLogger struct {
	parent Logger
	level  Level
}

func (l *levelLogger) Log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.parent.Log(level, format, args...)
}
