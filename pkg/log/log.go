// Package log wraps go.uber.org/zap with a package-level sugared
// logger and a simple numeric level gate, so call sites can write
// log.Info("message", "key", value, ...) without threading a logger
// through every constructor.
package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func init() {
	atom := zap.NewAtomicLevelAt(zapcore.DebugLevel)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	logger := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		atom,
	))

	zap.ReplaceGlobals(logger)
}

// Debug logs a debug message with structured key/value pairs.
func Debug(msg string, kv ...interface{}) {
	if logLevel <= DEBUG {
		zap.S().Debugw(msg, kv...)
	}
}

// Info logs an info message with structured key/value pairs.
func Info(msg string, kv ...interface{}) {
	if logLevel <= INFO {
		zap.S().Infow(msg, kv...)
	}
}

// Warn logs a warning message with structured key/value pairs.
func Warn(msg string, kv ...interface{}) {
	if logLevel <= WARNING {
		zap.S().Warnw(msg, kv...)
	}
}

// Error logs an error message with structured key/value pairs.
func Error(msg string, kv ...interface{}) {
	if logLevel <= ERROR {
		zap.S().Errorw(msg, kv...)
	}
}

// Fatal logs a fatal message with structured key/value pairs and exits.
func Fatal(msg string, kv ...interface{}) {
	zap.S().Fatalw(msg, kv...)
}

// SetLevel sets the log level.
func SetLevel(level Level) {
	logLevel = level
}

// SetLevelFromString sets the log level from one of
// ["DEBUG", "INFO", "WARNING", "ERROR", "FATAL"], case-insensitive.
func SetLevelFromString(level string) error {
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = DEBUG
	case "INFO":
		logLevel = INFO
	case "WARNING":
		logLevel = WARNING
	case "ERROR":
		logLevel = ERROR
	case "FATAL":
		logLevel = FATAL
	default:
		return fmt.Errorf("invalid log level string: %v", level)
	}

	return nil
}

// Level enumerates the supported log levels.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var logLevel Level
