package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status for a process killed by SIGINT.
const exitInterrupted = 130

// shutdownContext derives a context that is canceled by the first SIGINT or
// SIGTERM, so a waiting login can abandon its attempt and exit cleanly. A
// second signal exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("signal received, canceling", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal received, exiting", slog.String("signal", sig.String()))
			os.Exit(exitInterrupted)
		case <-parent.Done():
		}
	}()

	return ctx
}
