// Package logging provides a centralized logging system for FaceLocker.
// It wraps logrus to provide consistent logging across all components.
package logging

import (
	"io"
	"os"
	"path/filepath"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logger instance.
var Logger *logrus.Logger

// Fields is an alias for logrus.Fields for convenience.
type Fields = logrus.Fields

// Entry is an alias for logrus.Entry so components can hold a scoped logger.
type Entry = logrus.Entry

// Log file rotation limits.
const (
	maxLogSizeMB  = 10
	maxLogBackups = 3
	maxLogAgeDays = 28
)

func init() {
	Logger = logrus.New()
	Logger.SetFormatter(textFormatter())
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

// Init initializes the logger with the specified level, log file and format.
// Format "nested" selects the compact nested formatter; anything else keeps
// the plain text formatter.
func Init(level, logFile, format string) error {
	SetLevel(level)
	if !validLevel(level) {
		Logger.SetLevel(logrus.InfoLevel)
	}

	if format == "nested" {
		Logger.SetFormatter(&formatter.Formatter{
			TimestampFormat: "2006-01-02 15:04:05",
			HideKeys:        false,
			NoColors:        logFile != "",
			FieldsOrder:     []string{"component", "session_id", "identity"},
		})
	} else {
		Logger.SetFormatter(textFormatter())
	}

	if logFile == "" {
		Logger.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return err
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
		LocalTime:  true,
	}

	// Write to both file and stderr
	Logger.SetOutput(io.MultiWriter(os.Stderr, rotating))
	return nil
}

// InitFileOnly is like Init but never writes to stderr. The gate binary uses
// it so that log lines do not interleave with its status output.
func InitFileOnly(level, logFile string) error {
	if err := Init(level, logFile, "text"); err != nil {
		return err
	}
	if logFile == "" {
		Logger.SetOutput(io.Discard)
		return nil
	}
	Logger.SetOutput(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
		LocalTime:  true,
	})
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// SetLevel sets the logging level. Unknown levels are ignored.
func SetLevel(level string) {
	switch level {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "info":
		Logger.SetLevel(logrus.InfoLevel)
	case "warn":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	}
}

// Debug logs a debug message.
func Debug(args ...interface{}) {
	Logger.Debug(args...)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Info logs an info message.
func Info(args ...interface{}) {
	Logger.Info(args...)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warn logs a warning message.
func Warn(args ...interface{}) {
	Logger.Warn(args...)
}

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	Logger.Error(args...)
}

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// Fatalf logs a formatted fatal message and exits.
func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}

// WithFields returns an entry with fields attached.
func WithFields(fields Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithField returns an entry with a single field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithError returns an entry with an error attached.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// Component returns a logger entry for a specific component.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
