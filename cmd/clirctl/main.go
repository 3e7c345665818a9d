// Command clirctl is a command-line client for the search service.
//
// Usage:
//
//	clirctl search "горы и реки" --rerank --top-k 20
//	clirctl rerank status
//	clirctl rerank unload
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clirctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
