package utils

import (
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// EnsureRunGoroutine runs f in a goroutine and restarts it after a panic.
// The process exits after ten consecutive restarts.
func EnsureRunGoroutine(logger *zap.Logger, f func(), tryCount ...int) {
	try := 0
	if len(tryCount) > 0 {
		try = tryCount[0]
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
					zap.Int("try", try))
				time.Sleep(1 * time.Second)
				if try > 10 {
					os.Exit(1)
				}
				EnsureRunGoroutine(logger, f, try+1)
			}
		}()

		f()
	}()
}
