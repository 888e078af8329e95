package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/picatz/geodoh/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.CommandRoot.ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}
