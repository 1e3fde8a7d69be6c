package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
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
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field is a single structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field        { return Field{Key: key, Value: value} }
func Int(key string, value int) Field       { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field     { return Field{Key: key, Value: value} }

// Err creates an error field; safe to call with a nil error.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the structured logging interface used throughout the daemon.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// JSONLogger implements Logger, writing one JSON object per line.
type JSONLogger struct {
	mu         sync.RWMutex
	level      Level
	output     io.Writer
	context    context.Context
	baseFields []Field
	timeFormat string
}

// New creates a logger writing to output at the given minimum level.
func New(output io.Writer, level Level) *JSONLogger {
	return &JSONLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
	}
}

// NewDefault builds a logger honoring AXON_LOG_LEVEL, defaulting to info.
func NewDefault() *JSONLogger {
	level := InfoLevel
	if raw := os.Getenv("AXON_LOG_LEVEL"); raw != "" {
		switch strings.ToUpper(raw) {
		case "DEBUG":
			level = DebugLevel
		case "INFO":
			level = InfoLevel
		case "WARN":
			level = WarnLevel
		case "ERROR":
			level = ErrorLevel
		}
	}
	return New(os.Stdout, level)
}

func (l *JSONLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *JSONLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *JSONLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *JSONLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

func (l *JSONLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *JSONLogger) WithContext(ctx context.Context) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &JSONLogger{
		level:      l.level,
		output:     l.output,
		context:    ctx,
		baseFields: l.baseFields,
		timeFormat: l.timeFormat,
	}
}

func (l *JSONLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	merged := make([]Field, len(l.baseFields)+len(fields))
	copy(merged, l.baseFields)
	copy(merged[len(l.baseFields):], fields)
	return &JSONLogger{
		level:      l.level,
		output:     l.output,
		context:    l.context,
		baseFields: merged,
		timeFormat: l.timeFormat,
	}
}

func (l *JSONLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *JSONLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, 6+len(l.baseFields)+len(fields))
	entry["ts"] = time.Now().Format(l.timeFormat)
	entry["level"] = level.String()
	entry["msg"] = msg

	if _, file, line, ok := runtime.Caller(2); ok {
		entry["caller"] = fmt.Sprintf("%s:%d", file, line)
	}

	if l.context != nil {
		if agentID := l.context.Value(ctxKeyAgentID); agentID != nil {
			entry["agent_id"] = agentID
		}
		if reqID := l.context.Value(ctxKeyReqID); reqID != nil {
			entry["req_id"] = reqID
		}
	}

	for _, f := range l.baseFields {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","msg":"failed to marshal log entry","error":"%v"}`+"\n", err)
		return
	}
	fmt.Fprintf(l.output, "%s\n", data)
}

type ctxKey int

const (
	ctxKeyAgentID ctxKey = iota
	ctxKeyReqID
)

// WithAgentID attaches an agent_id that a WithContext logger will emit.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxKeyAgentID, agentID)
}

// WithReqID attaches an IPC req_id that a WithContext logger will emit.
func WithReqID(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, ctxKeyReqID, reqID)
}

var defaultLogger Logger = NewDefault()

// SetDefault replaces the package-level default logger.
func SetDefault(l Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() Logger { return defaultLogger }

func Debug(msg string, fields ...Field) { defaultLogger.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { defaultLogger.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { defaultLogger.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { defaultLogger.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { defaultLogger.Fatal(msg, fields...) }
