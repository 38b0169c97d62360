// Command leadctl drives the lead pipeline from a terminal: submit a lead,
// mint operator tokens for the admin API, and inspect the submission log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apexdeliver/backend/internal/logging"
)

func main() {
	logging.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp(os.Stdout)).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
