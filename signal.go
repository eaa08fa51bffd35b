package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// interruptedExitCode is the shell convention for death by SIGINT.
const interruptedExitCode = 130

// shutdownContext derives the context that batch and watch run under.
//
// The first SIGINT or SIGTERM cancels it: the request in flight is
// abandoned, a batch prints what it completed before stopping, and watch
// releases its lock file. A second signal exits at once with status 130.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	return trapSignals(parent, logger, notifyInterrupts, os.Exit)
}

// notifyFunc subscribes ch to the interrupt signals and returns the
// matching unsubscribe.
type notifyFunc func(ch chan<- os.Signal) (stop func())

func notifyInterrupts(ch chan<- os.Signal) func() {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	return func() { signal.Stop(ch) }
}

func trapSignals(parent context.Context, logger *slog.Logger, notify notifyFunc, exit func(int)) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	stop := notify(sigCh)

	go func() {
		defer stop()

		var sig os.Signal

		select {
		case sig = <-sigCh:
		case <-ctx.Done():
			return
		}

		logger.Info("interrupted, stopping appliance work", slog.String("signal", sig.String()))
		cancel()

		select {
		case sig = <-sigCh:
			logger.Warn("interrupted twice, exiting without cleanup", slog.String("signal", sig.String()))
			exit(interruptedExitCode)
		case <-parent.Done():
		}
	}()

	return ctx
}
