// agentflow inspects and dry-runs workflow documents.
//
// Usage:
//
//	agentflow validate <workflow.yaml>...
//	agentflow plan <workflow.yaml> [--json]
//	agentflow simulate <workflow.yaml> [--fail=id,...] [--delay=id=50ms,...] [--policy=best_effort] [--observer=slog|otel|none]
//
// Simulation replaces every node with a stub that echoes its ID after an
// optional delay, so scheduling, failure policies and timeouts can be
// checked without the real node implementations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
