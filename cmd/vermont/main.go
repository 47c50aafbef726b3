package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vermont/cmd/vermont/cmd"
	"vermont/core/logger"
)

// main is the entry point of the vermont collector.
func main() {
	ctx := logger.WithComponentName(context.Background(), "main")

	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info(ctx, "Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()

	err := cmd.Execute(ctx)
	cancel()
	// Flush buffered log entries before exiting.
	_ = logger.L().Sync()
	if err != nil {
		os.Exit(1)
	}
}
