// Command tickr is the command-line client for a tickr server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/tickr/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
