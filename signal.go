package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// interruptExitCode is the status for a command stopped by an interrupt.
const interruptExitCode = 130

// interrupts turns Ctrl-C into command cancellation. The first signal
// cancels the command context: a list drain stops before its next page and
// queued get or delete requests are never sent. A credential renewal that is
// already on the wire runs detached and still lands in the session store, so
// the next command does not renew again. A second signal exits at once.
type interrupts struct {
	signals <-chan os.Signal
	exit    func(code int)
	logger  *slog.Logger
}

// shutdownContext returns the command context, cancelled by the first
// SIGINT or SIGTERM.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	in := interrupts{signals: sigCh, exit: os.Exit, logger: logger}

	return in.watch(parent, func() { signal.Stop(sigCh) })
}

// watch cancels the returned context on the first signal and calls exit on
// the second. stop runs once watching ends.
func (in interrupts) watch(parent context.Context, stop func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer stop()

		select {
		case sig := <-in.signals:
			in.logger.Info("interrupted, cancelling pending requests (interrupt again to exit now)",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-in.signals:
			in.logger.Warn("second interrupt, exiting without waiting",
				slog.String("signal", sig.String()),
			)
			in.exit(interruptExitCode)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
