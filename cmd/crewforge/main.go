package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crewforge/internal/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
