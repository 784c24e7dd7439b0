// Package logging provides structured logging for the fieldsync agent.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cpltrack/fieldsync/internal/config"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Logger wraps a zap logger behind the context-map API used across the agent.
type Logger struct {
	z        *zap.Logger
	minLevel LogLevel
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
	mu     sync.RWMutex
)

// Init initializes the global logger with a JSON encoder writing to out.
// Later calls are ignored.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		mu.Lock()
		global = newLogger(zapcore.AddSync(out), minLevel, "json")
		mu.Unlock()
	})
}

// Setup builds a logger from configuration and installs it as the global logger.
func Setup(cfg config.LogConfig) (*Logger, error) {
	level := parseLevel(cfg.Level)

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(zapLevel(level)),
		Development:       cfg.Development,
		Encoding:          cfg.Encoding,
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		EncoderConfig:     encoderConfig(),
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	if zc.Encoding == "" {
		zc.Encoding = "json"
	}
	if zc.Encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	z, err := zc.Build()
	if err != nil {
		return nil, err
	}

	l := &Logger{z: z, minLevel: level}
	once.Do(func() {})
	mu.Lock()
	global = l
	mu.Unlock()
	return l, nil
}

// Get returns the global logger instance.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		Init(os.Stdout, LevelInfo)
		mu.RLock()
		l = global
		mu.RUnlock()
	}
	return l
}

func newLogger(ws zapcore.WriteSyncer, minLevel LogLevel, encoding string) *Logger {
	var enc zapcore.Encoder
	if encoding == "console" {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	} else {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	}
	core := zapcore.NewCore(enc, ws, zapLevel(minLevel))
	return &Logger{z: zap.New(core), minLevel: minLevel}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.LevelKey = "level"
	ec.EncodeTime = zapcore.RFC3339TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func parseLevel(s string) LogLevel {
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

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Level returns the minimum level the logger writes.
func (l *Logger) Level() LogLevel {
	return l.minLevel
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.z.Debug(message, fields(nil, context...)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.z.Info(message, fields(nil, context...)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.z.Warn(message, fields(nil, context...)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	l.z.Error(message, fields(err, context...)...)
}

// ErrorWithCode logs an error message tagged with an error code.
func (l *Logger) ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	fs := append([]zap.Field{zap.String("code", code)}, fields(err, context...)...)
	l.z.Error(message, fs...)
}

// fields merges the context maps under a "context" namespace, keys sorted.
func fields(err error, context ...map[string]interface{}) []zap.Field {
	var fs []zap.Field
	if err != nil {
		fs = append(fs, zap.Error(err))
	}

	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return fs
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fs = append(fs, zap.Namespace("context"))
	for _, k := range keys {
		fs = append(fs, zap.Any(k, merged[k]))
	}
	return fs
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
