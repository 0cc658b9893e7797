// Package logger provides the console logging façade used by the engine.
// Every line is written under the console lock at the logger's indentation
// depth.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)

	// Indent returns a logger one level deeper. The receiver keeps its own
	// depth, so indentation ends when the child goes out of scope.
	Indent() Logger
	Depth() int
	Locker() sync.Locker
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

const (
	depthKey = "depth"
	kindKey  = "kind"

	kindSuccess = "success"
)

// Config configures a ConsoleLogger.
type Config struct {
	Level   string
	NoColor bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// Lock guards every emitted line. A nil Lock gets a private mutex.
	Lock sync.Locker
}

// ConsoleLogger writes info, warning, debug and success lines to stdout and
// error lines to stderr.
type ConsoleLogger struct {
	out   *logrus.Logger
	err   *logrus.Logger
	lock  sync.Locker
	depth int
}

// New creates a console logger from cfg.
func New(cfg Config) *ConsoleLogger {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	lk := cfg.Lock
	if lk == nil {
		lk = &sync.Mutex{}
	}

	formatter := &CustomFormatter{DisableColors: cfg.NoColor}
	return &ConsoleLogger{
		out:  newLogrus(stdout, level, formatter),
		err:  newLogrus(stderr, level, formatter),
		lock: lk,
	}
}

// NewWithOutput creates an uncoloured logger writing to the given streams (for testing)
func NewWithOutput(level string, stdout, stderr io.Writer, lock sync.Locker) *ConsoleLogger {
	return New(Config{
		Level:   level,
		NoColor: true,
		Stdout:  stdout,
		Stderr:  stderr,
		Lock:    lock,
	})
}

// Nop returns a logger that discards everything.
func Nop() *ConsoleLogger {
	return NewWithOutput("panic", io.Discard, io.Discard, nil)
}

func newLogrus(w io.Writer, level logrus.Level, formatter logrus.Formatter) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	log.SetFormatter(formatter)
	return log
}

// Indent returns a logger one level deeper sharing outputs and lock.
func (l *ConsoleLogger) Indent() Logger {
	return &ConsoleLogger{
		out:   l.out,
		err:   l.err,
		lock:  l.lock,
		depth: l.depth + 1,
	}
}

// Depth returns the indentation depth.
func (l *ConsoleLogger) Depth() int {
	return l.depth
}

// Locker returns the lock guarding console emission.
func (l *ConsoleLogger) Locker() sync.Locker {
	return l.lock
}

// Info logs an info message
func (l *ConsoleLogger) Info(message string, fields ...Field) {
	l.emit(l.out, logrus.InfoLevel, "", message, fields)
}

// Warn logs a warning message
func (l *ConsoleLogger) Warn(message string, fields ...Field) {
	l.emit(l.out, logrus.WarnLevel, "", message, fields)
}

// Error logs an error message
func (l *ConsoleLogger) Error(message string, fields ...Field) {
	l.emit(l.err, logrus.ErrorLevel, "", message, fields)
}

// Debug logs a debug message
func (l *ConsoleLogger) Debug(message string, fields ...Field) {
	l.emit(l.out, logrus.DebugLevel, "", message, fields)
}

// Success logs a success message (info level with special formatting)
func (l *ConsoleLogger) Success(message string, fields ...Field) {
	l.emit(l.out, logrus.InfoLevel, kindSuccess, message, fields)
}

func (l *ConsoleLogger) emit(log *logrus.Logger, level logrus.Level, kind, message string, fields []Field) {
	if !log.IsLevelEnabled(level) {
		return
	}

	data := make(logrus.Fields, len(fields)+2)
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	data[depthKey] = l.depth
	if kind != "" {
		data[kindKey] = kind
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	log.WithFields(data).Log(level, message)
}

// CustomFormatter renders "<indent>[LEVEL] => message {k=v}" lines.
type CustomFormatter struct {
	DisableColors bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	depth, _ := entry.Data[depthKey].(int)
	kind, _ := entry.Data[kindKey].(string)

	var levelColor *color.Color
	var tag string

	switch {
	case entry.Level == logrus.ErrorLevel:
		levelColor = color.New(color.FgRed)
		tag = "[ERROR] ===> "
	case entry.Level == logrus.WarnLevel:
		levelColor = color.New(color.FgYellow)
		tag = "[WARNING] => "
	case entry.Level == logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		tag = "[DEBUG] ===> "
	case kind == kindSuccess:
		levelColor = color.New(color.FgGreen)
		tag = "[SUCCESS] => "
	default:
		levelColor = color.New(color.FgBlue)
		tag = "[INFO] ====> "
	}

	var b strings.Builder
	b.WriteString(Indentation(depth))

	body := tag + entry.Message
	if fields := formatFields(entry.Data); fields != "" {
		body += " " + fields
	}

	if f.DisableColors {
		b.WriteString(body)
	} else {
		b.WriteString(levelColor.Sprint(body))
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

// Indentation returns the line prefix for depth.
func Indentation(depth int) string {
	if depth <= 0 {
		return ""
	}
	return strings.Repeat("==", depth) + " "
}

func formatFields(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k == depthKey || k == kindKey {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
