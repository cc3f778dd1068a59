package async

import "runtime/debug"

// PanicLogger receives panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn on a new goroutine with panic recovery. A panic is logged with
// its stack and swallowed so one background task cannot take the process down.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs an in-flight panic, if any, and suppresses it. Intended for use
// in a defer at the top of goroutine bodies.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil || logger == nil {
		return
	}
	if name == "" {
		logger.Error("background panic: %v, stack: %s", r, debug.Stack())
		return
	}
	logger.Error("background panic [%s]: %v, stack: %s", name, r, debug.Stack())
}
