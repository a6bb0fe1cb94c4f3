// Package debug provides debug logging utilities for eval-server.
// Debug mode is enabled via EVALSERVER_DEBUG=1 or automatically in development mode.
package debug

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

var (
	enabled     bool
	enabledOnce sync.Once
)

// IsEnabled returns true if debug mode is active.
// Checks EVALSERVER_DEBUG env var on first call and caches the result.
func IsEnabled() bool {
	enabledOnce.Do(func() {
		v := os.Getenv("EVALSERVER_DEBUG")
		if v != "" {
			enabled = v == "1" || v == "true"
		} else {
			env := os.Getenv("ENV")
			enabled = env == "" || env == "development"
		}
		if enabled {
			log.Printf("[DEBUG] Debug mode enabled")
		}
	})
	return enabled
}

// Log logs a debug message if debug mode is enabled.
func Log(category, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Printf("[DEBUG %s] %s", category, msg)
}

// Warn logs a warning message if debug mode is enabled.
func Warn(category, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Printf("[WARN  %s] %s", category, msg)
}

// Eval logs the outcome of a single evaluation with timing.
func Eval(evalID, outcome string, duration time.Duration) {
	if !IsEnabled() {
		return
	}
	log.Printf("[DEBUG eval] id=%s outcome=%s took=%s", evalID, outcome, duration.Round(time.Microsecond))
}

// Fetch logs a guest-initiated outbound request.
func Fetch(evalID, host string, status int, duration time.Duration) {
	if !IsEnabled() {
		return
	}
	log.Printf("[DEBUG fetch] eval=%s host=%s status=%d took=%s", evalID, host, status, duration.Round(time.Microsecond))
}

// Queue logs admission queue state transitions.
func Queue(depth int, admitted bool) {
	if !IsEnabled() {
		return
	}
	log.Printf("[DEBUG queue] depth=%d admitted=%t", depth, admitted)
}
