// Package logging provides structured JSON logging for the Cloud SQL
// Connection service. Every entry is a single JSON object written to
// stdout so that Cloud Run / Cloud Logging can ingest it directly.
package logging

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
)

// LogEntry is the JSON shape of a single log line.
//
// Security Note: callers must never place secret payloads or connection
// strings into Message, Error, or Fields.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes structured JSON log entries.
type Logger struct {
	output *log.Logger
}

// NewLogger creates a logger writing to stdout without any stdlib prefix,
// so each line is pure JSON.
func NewLogger() *Logger {
	return &Logger{
		output: log.New(os.Stdout, "", 0),
	}
}

// Info logs an informational message.
func (l *Logger) Info(message string) {
	l.write(LogLevelInfo, message, nil, nil)
}

// Infow logs an informational message with structured fields.
func (l *Logger) Infow(message string, fields map[string]interface{}) {
	l.write(LogLevelInfo, message, nil, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string) {
	l.write(LogLevelWarning, message, nil, nil)
}

// Error logs an error with its message. err may be nil.
func (l *Logger) Error(message string, err error) {
	l.write(LogLevelError, message, err, nil)
}

// Critical logs a critical failure. err may be nil.
func (l *Logger) Critical(message string, err error) {
	l.write(LogLevelCritical, message, err, nil)
}

// Request logs one handled HTTP request.
func (l *Logger) Request(method, path string, status int, duration time.Duration, ip string) {
	l.write(LogLevelInfo, "request handled", nil, map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
		"ip":          ip,
	})
}

func (l *Logger) write(level LogLevel, message string, err error, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		// Fall back to plain text rather than dropping the entry.
		l.output.Printf(`{"level":"ERROR","message":"failed to marshal log entry"}`)
		return
	}

	l.output.Println(string(data))
}
