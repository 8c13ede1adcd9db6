package bridge

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// ExitHook arranges for onExit to run when the process is interrupted. The
// returned stop function cancels the arrangement and may be called more than
// once.
type ExitHook func(onExit func()) (stop func())

// signalExitHook runs onExit on SIGINT or SIGTERM, flushes the global logger
// and exits the process. It is the default for programs without their own
// shutdown path.
func signalExitHook(onExit func()) func() {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			onExit()
			_ = zap.L().Sync()
			os.Exit(1)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
