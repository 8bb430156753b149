package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	baseMu    sync.Mutex
	base      = zap.NewNop()
	baseLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Setup builds the process-wide zap core. Loggers created afterwards write through it.
// level is one of debug, info, warn, error; json selects the production encoder.
func Setup(level string, json bool) error {
	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
	}
	baseLevel.SetLevel(ParseLevel(level).zapLevel())
	cfg.Level = baseLevel

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	baseMu.Lock()
	base = l
	baseMu.Unlock()
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	baseMu.Lock()
	l := base
	baseMu.Unlock()
	_ = l.Sync()
}

// ParseLevel maps a textual level to a LogLevel, defaulting to Info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch {
	case l >= Critical:
		return zapcore.DPanicLevel
	case l >= Error:
		return zapcore.ErrorLevel
	case l >= Warning:
		return zapcore.WarnLevel
	case l >= Info:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Logger provides structured logging with context
type Logger struct {
	prefix        string
	sugar         *zap.SugaredLogger
	logLevel      LogLevel
	logLevelMutex sync.Mutex
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	logLevelValue := NotSet
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}

	baseMu.Lock()
	l := base
	baseMu.Unlock()

	return &Logger{
		prefix:   prefix,
		sugar:    l.Named(prefix).Sugar(),
		logLevel: logLevelValue,
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{prefix: "nop", sugar: zap.NewNop().Sugar()}
}

// SetLogLevel sets a per-logger floor on top of the process level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

func (l *Logger) enabled(level LogLevel) bool {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	return l.logLevel <= level
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l.enabled(Info) {
		l.sugar.Infow(msg, keyvals...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l.enabled(Error) {
		l.sugar.Errorw(msg, keyvals...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l.enabled(Warning) {
		l.sugar.Warnw(msg, keyvals...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l.enabled(Debug) {
		l.sugar.Debugw(msg, keyvals...)
	}
}
