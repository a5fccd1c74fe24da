package safe

import (
	"runtime/debug"

	"IMCore/logger"
	"IMCore/tools/errs"
)

// Go starts a goroutine that recovers from panic, so one misbehaving
// connection task cannot crash the whole gateway.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] %v\n%s", errs.ErrPanic(r), debug.Stack())
			}
		}()
		f()
	}()
}
