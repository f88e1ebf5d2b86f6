// Package klog adapts zerolog into the terse, one-event-per-line style
// Biscuit's own main.go uses for kernel diagnostics ("cpu bring-up", "idle
// process created"), instead of the prose-heavy logging idiom elsewhere in
// the ecosystem.
package klog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

func logger() zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
			With().Timestamp().Logger()
	})
	return base
}

// Event starts a log line with the given level and message, returning the
// zerolog context so callers can attach fields before Send/Msg.
func Event(level zerolog.Level, msg string) *zerolog.Event {
	return logger().WithLevel(level).Str("evt", msg)
}

// Info logs an informational kernel event.
func Info(msg string) *zerolog.Event { return Event(zerolog.InfoLevel, msg) }

// Warn logs a recoverable anomaly (e.g. a pick_next miss, a spurious wakeup).
func Warn(msg string) *zerolog.Event { return Event(zerolog.WarnLevel, msg) }

// Fatal logs immediately before a kernel panic, since spec.md states panics
// are terminal with no unwinding — this is the only record of the failure.
func Fatal(msg string) *zerolog.Event { return Event(zerolog.ErrorLevel, msg) }

// CPU attaches a cpu id field to an event.
func CPU(ev *zerolog.Event, id int) *zerolog.Event { return ev.Int("cpu", id) }

// Proc attaches a pid field to an event.
func Proc(ev *zerolog.Event, pid int32) *zerolog.Event { return ev.Int32("pid", pid) }
