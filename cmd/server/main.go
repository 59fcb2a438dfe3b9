// Package main implements the entry point for the flowengine server:
// the asynchronous execution core that queues, runs, schedules and
// recovers workflow jobs.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
