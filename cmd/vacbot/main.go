// File: cmd/vacbot/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/vacbot/cmd"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// Ctrl+C cancels whatever the run is waiting on and tears the browser down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
			return
		}
		osExit(1)
	}
}
