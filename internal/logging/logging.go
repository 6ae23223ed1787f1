// Package logging is a thin leveled gate over the standard logger. Output
// goes wherever log.SetOutput points, optionally a file configured at
// startup.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level controls which messages reach the standard logger.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelWarn))
}

// ParseLevel maps a config string to a Level. Unknown strings fall back
// to warn, matching the daemon's default.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "info":
		return LevelInfo
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelWarn
	}
}

// SetLevel changes the active level.
func SetLevel(l Level) {
	current.Store(int32(l))
}

// Setup applies the level and, if file is non-empty, redirects the standard
// logger there. The returned func closes the log file on daemon exit.
func Setup(level Level, file string) (func(), error) {
	SetLevel(level)
	log.SetFlags(log.LstdFlags)

	if file == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return func() { f.Close() }, nil
}

func enabled(l Level) bool {
	return Level(current.Load()) >= l
}

// Errorf logs at error level.
func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		log.Printf("ERROR "+format, v...)
	}
}

// Warnf logs at warn level.
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		log.Printf("WARN "+format, v...)
	}
}

// Infof logs at info level.
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		log.Printf(format, v...)
	}
}

// Debugf logs at debug level.
func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		log.Printf("DEBUG "+format, v...)
	}
}
