// Package main provides the macsweep CLI, a parameter sweep harness for the
// acoustic modem's MAC layer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"macsweep/internal/cli"
)

func main() {
	// Cancelling the context lets the sweep stop its processes and restore the
	// constants file before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp()
	rootCmd := app.CreateRootCommand()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
