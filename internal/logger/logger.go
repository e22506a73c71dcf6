// Package logger is a thin, level-gated wrapper over the standard log
// package. The hub logs every document/session id it touches through here
// rather than a structured logging library, matching the rest of the
// ambient stack's preference for small stdlib-based pieces.
package logger

import (
	"log"
	"os"
	"strings"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel LogLevel = LevelInfo

func init() {
	log.SetFlags(log.Ldate | log.Ltime)

	level := os.Getenv("LOG_LEVEL")
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "WARN", "WARNING":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	default:
		currentLevel = LevelInfo
	}
}

// Debug logs a debug message (only shown when LOG_LEVEL=DEBUG).
func Debug(format string, v ...interface{}) {
	if currentLevel <= LevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	if currentLevel <= LevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	if currentLevel <= LevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	if currentLevel <= LevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatal logs a fatal message and exits the program.
func Fatal(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}

// Room returns a documentId-scoped logging prefix, used by the hub so
// every room/replica log line can be grepped by document.
func Room(docID string) *Scoped {
	return &Scoped{prefix: "room " + docID + ": "}
}

// Session returns a sessionId-scoped logging prefix.
func Session(sessionID string) *Scoped {
	return &Scoped{prefix: "session " + sessionID + ": "}
}

// Scoped prefixes every message with a fixed tag (a document or session id).
type Scoped struct {
	prefix string
}

func (s *Scoped) Debug(format string, v ...interface{}) { Debug(s.prefix+format, v...) }
func (s *Scoped) Info(format string, v ...interface{})  { Info(s.prefix+format, v...) }
func (s *Scoped) Warn(format string, v ...interface{})  { Warn(s.prefix+format, v...) }
func (s *Scoped) Error(format string, v ...interface{}) { Error(s.prefix+format, v...) }
