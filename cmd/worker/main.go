package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"transcode-worker/internal/supervisor"
)

func main() {
	app, err := supervisor.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}
