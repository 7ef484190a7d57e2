package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func cascadeWorker() {
//	    defer observability.RecoverPanic(logger, "cascade worker")
//	    // ... code that might panic
//	}
//
// If a panic occurs it is recovered and logged at Error level with the
// panic value, the full stack trace, and the context string. The panic
// is NOT re-raised, so the process keeps running; the caller is
// responsible for leaving shared state consistent.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and executes a callback
//
// Usage when cleanup is needed after panic:
//
//	func auditWriter() {
//	    defer observability.RecoverPanicWithCallback(logger, "audit writer", func() {
//	        close(doneCh)  // Unblock waiters
//	    })
//	    // ... code that might panic
//	}
//
// The callback runs AFTER logging the panic and only when a panic
// actually occurred. Typical cleanup actions are closing channels to
// unblock waiting goroutines, releasing locks, or flipping error flags.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value to an error
//
// Usage when you want to convert panics to errors:
//
//	func parseCatalog() (c Catalog, err error) {
//	    defer func() {
//	        if rerr := observability.MustRecover(recover()); rerr != nil {
//	            err = rerr
//	        }
//	    }()
//	    // ... code that might panic
//	    return c, nil
//	}
//
// Returns nil when r is nil. The stack trace is not included in the
// error; use RecoverPanic for structured logging with stack traces.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
