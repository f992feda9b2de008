package chatlog

import (
	"github.com/kataras/golog"
)

// GologLogger implements Logger interface using kataras/golog
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger creates a new logger using an existing golog.Logger
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{
		logger: logger,
		level:  LogLevelInfo, // default level
	}
}

// log dispatches to the underlying golog.Logger at sev if the wrapper's
// own level admits it, passing format through as golog's leading arg.
func (l *GologLogger) log(sev LogLevel, emit func(...any), format string, v ...any) {
	if l.level > sev {
		return
	}
	emit(append([]any{format}, v...)...)
}

func (l *GologLogger) Debug(format string, v ...any) { l.log(LogLevelDebug, l.logger.Debug, format, v...) }
func (l *GologLogger) Info(format string, v ...any)  { l.log(LogLevelInfo, l.logger.Info, format, v...) }
func (l *GologLogger) Warn(format string, v ...any)  { l.log(LogLevelWarn, l.logger.Warn, format, v...) }
func (l *GologLogger) Error(format string, v ...any) { l.log(LogLevelError, l.logger.Error, format, v...) }

// gologLevelNames maps our LogLevel to golog's string level vocabulary.
var gologLevelNames = map[LogLevel]string{
	LogLevelDebug: "debug",
	LogLevelInfo:  "info",
	LogLevelWarn:  "warn",
	LogLevelError: "error",
	LogLevelNone:  "disable",
}

// SetLevel sets the log level, both on this wrapper and on the underlying
// golog.Logger so its own level-gated helpers (e.g. Fatal) stay in sync.
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level
	if name, ok := gologLevelNames[level]; ok {
		l.logger.SetLevel(name)
	}
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}