// Package main is the entry point for the user sync worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"usersync/cmd/usersync/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.NewRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(app.ExitCode(err))
}
