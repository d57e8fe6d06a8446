package safe

import (
	"PPRealtime/logger"
	"PPRealtime/tools/errs"

	"go.uber.org/zap"
)

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f on the current goroutine and recovers from panic.
// It reports whether f returned normally.
func Run(name string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[safe] panic recovered",
				zap.String("task", name),
				zap.Error(errs.ErrPanic(r)),
				zap.Stack("stack"))
			ok = false
		}
	}()
	f()
	return true
}
