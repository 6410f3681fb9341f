// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/authflow-cli/cmd"
)

// main is the entry point for the authflow CLI application.
func main() {
	// The command tree receives a signal-aware context so an interrupt
	// unwinds the processing loop instead of killing it mid-write.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
