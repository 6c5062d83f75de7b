package logging

import (
	"io"
	"log"

	"spawnio.dev/cli/internal/core/ports"
)

// ConsoleLogger adapts the standard logger to the LoggingGateway interface.
// It writes to stderr so child output on stdout stays clean.
type ConsoleLogger struct {
	logger   *log.Logger
	logLevel ports.LogLevel
}

// NewConsoleLogger creates a console logger at the given level.
func NewConsoleLogger(out io.Writer, level ports.LogLevel) *ConsoleLogger {
	return &ConsoleLogger{
		logger:   log.New(out, "spawnio: ", log.LstdFlags),
		logLevel: level,
	}
}

// Log logs a message with the specified level
func (l *ConsoleLogger) Log(level ports.LogLevel, message string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	levelStr := "INFO"
	switch level {
	case ports.LogLevelError:
		levelStr = "ERROR"
	case ports.LogLevelWarn:
		levelStr = "WARN"
	case ports.LogLevelDebug:
		levelStr = "DEBUG"
	}

	if fields != nil {
		l.logger.Printf("%s: %s (fields: %v)", levelStr, message, fields)
	} else {
		l.logger.Printf("%s: %s", levelStr, message)
	}
}

// LogError logs an error
func (l *ConsoleLogger) LogError(err error, message string, fields map[string]interface{}) {
	if fields != nil {
		l.logger.Printf("ERROR: %s: %v (fields: %v)", message, err, fields)
	} else {
		l.logger.Printf("ERROR: %s: %v", message, err)
	}
}

// SetLogLevel sets the logging level
func (l *ConsoleLogger) SetLogLevel(level ports.LogLevel) {
	l.logLevel = level
}

// GetLogLevel returns the current logging level
func (l *ConsoleLogger) GetLogLevel() ports.LogLevel {
	return l.logLevel
}

func (l *ConsoleLogger) shouldLog(level ports.LogLevel) bool {
	return level >= l.logLevel
}

// NoopLogger discards everything. Useful when embedding the watcher in
// another program that does its own logging.
type NoopLogger struct{}

func (NoopLogger) Log(ports.LogLevel, string, map[string]interface{}) {}
func (NoopLogger) LogError(error, string, map[string]interface{})     {}
func (NoopLogger) SetLogLevel(ports.LogLevel)                         {}
func (NoopLogger) GetLogLevel() ports.LogLevel                        { return ports.LogLevelInfo }
