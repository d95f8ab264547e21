package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Signal-aware root context so in-flight jobs drain on shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
