package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the full stack trace. Used
// in defer statements around externally triggered work, like the scheduler
// worker's processing passes, so one bad repository cannot kill the process.
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("panic recovered")
	}
}
