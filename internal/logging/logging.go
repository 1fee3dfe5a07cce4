// Package logging provides the structured logger shared by every package in
// the scheduler core. Call sites tag themselves with With(component) the way
// the teacher codebase tags debug lines per worker/balancer.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = newBase(os.Stderr)
)

func newBase(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("PI_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetOutput redirects all future log lines; used by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newBase(w)
}

// With returns a logger tagged with the given component name, e.g.
// With("ratelimit") or With("sched.core").
func With(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}

// Debug logs a debug-level message against the root logger, for call sites
// that don't carry a component tag.
func Debug(msg string, kv ...any) {
	logWithKV(With("").Debug(), msg, kv)
}

// Info logs an info-level message against the root logger.
func Info(msg string, kv ...any) {
	logWithKV(With("").Info(), msg, kv)
}

// Warn logs a warn-level message against the root logger.
func Warn(msg string, kv ...any) {
	logWithKV(With("").Warn(), msg, kv)
}

// Error logs an error-level message against the root logger.
func Error(msg string, kv ...any) {
	logWithKV(With("").Error(), msg, kv)
}

// logWithKV appends alternating key/value pairs as structured fields before
// emitting msg. Odd trailing keys are dropped rather than panicking, since
// logging must never be the thing that crashes a scheduler loop.
func logWithKV(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
