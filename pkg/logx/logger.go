package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a structured logger with key/value call style
type Logger struct {
	entry     *logrus.Entry
	component string
}

// NewLogger creates a logger writing text to stderr at the given level
func NewLogger(level, component string) *Logger {
	return NewLoggerWithOutput(level, component, false, os.Stderr)
}

// NewLoggerWithOutput creates a logger with an explicit output and formatter
func NewLoggerWithOutput(level, component string, jsonFormat bool, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(parseLevel(level))

	if jsonFormat {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{
		entry:     base.WithField("component", component),
		component: component,
	}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(kv)), component: l.component}
}

// WithComponent returns a child logger for a sub component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component), component: component}
}

// Trace logs at trace level
func (l *Logger) Trace(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Trace(msg)
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Debug(msg)
}

// Info logs at info level
func (l *Logger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Info(msg)
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Warn(msg)
}

// Error logs at error level
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Error(msg)
}

// LogDebugVerbose logs a named debug event with a field map
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).WithField("event", event).Debug(event)
}

// IsDebug reports whether debug output is enabled
func (l *Logger) IsDebug() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// toFields accepts either alternating key/value pairs or a single field map
func toFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]interface{}); ok {
			for k, v := range m {
				fields[k] = normalize(v)
			}
			return fields
		}
	}

	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields[key] = "(missing)"
			break
		}
		fields[key] = normalize(kv[i+1])
	}
	return fields
}

func normalize(v interface{}) interface{} {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}
