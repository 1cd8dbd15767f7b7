// Package logger is a thin leveled wrapper over the standard log package.
package logger

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	debug   bool
	muted   = map[string]bool{}
	std     = log.New(os.Stderr, "", log.LstdFlags)
)

// SetOutput redirects all subsequent log lines to w (spec §6 --log).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// SetDebug toggles whether Debug() calls are emitted.
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debug = enabled
}

// Mute suppresses Topic() calls tagged with any of the given topics;
// Info/Warn/Error/Debug carry no topic and are never muted.
func Mute(topics []string) {
	mu.Lock()
	defer mu.Unlock()
	for _, t := range topics {
		muted[t] = true
	}
}

func isMuted(topic string) bool {
	if topic == "" {
		return false
	}
	mu.RLock()
	defer mu.RUnlock()
	return muted[topic]
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	std.Printf("INFO: "+format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	std.Printf("WARN: "+format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	std.Printf("ERROR: "+format, args...)
}

// Debug logs a debug message, a no-op unless SetDebug(true) was called.
func Debug(format string, args ...interface{}) {
	mu.RLock()
	on := debug
	mu.RUnlock()
	if !on {
		return
	}
	std.Printf("DEBUG: "+format, args...)
}

// Topic logs an informational message tagged with a topic, honoring --mute.
func Topic(topic, format string, args ...interface{}) {
	if isMuted(topic) {
		return
	}
	std.Printf("INFO[%s]: "+format, append([]interface{}{topic}, args...)...)
}
