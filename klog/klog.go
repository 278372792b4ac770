// Package klog is the kernel's boot/subsystem logger. It stands in for the
// serial/console sink the real hardware would own: a plain log.Logger with
// a settable output, so tests and cmd/kernel can redirect it without the
// weight of a structured logging library the kernel can't safely use before
// a console driver exists.
package klog

import (
	"log"
	"os"
	"sync"

	"merlon/caller"
)

var (
	mu  sync.Mutex
	std = log.New(os.Stdout, "", 0)
	dc  = caller.Distinct_caller_t{Enabled: true}
)

// SetOutput redirects the logger, e.g. to a bytes.Buffer in tests or to the
// console vnode once one exists.
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// Printf logs an unconditional message, matching the teacher's terse,
// lowercase, no-trailing-punctuation register.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Printf(format, args...)
}

// Warnf is Printf tagged "warn:".
func Warnf(format string, args ...interface{}) {
	Printf("warn: "+format, args...)
}

// Once logs the message only the first time it's reached from this
// particular call chain, useful for noisy paths (page fault retries,
// deferred-work backlog) that would otherwise flood the console.
func Once(format string, args ...interface{}) {
	if novel, _ := dc.Distinct(); novel {
		Printf(format, args...)
	}
}
