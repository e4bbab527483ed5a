// bagsplit splits a ROS 2 bag into per-category artifacts: image sequences
// (optionally anonymized and time-synchronized), point clouds, CSV and KML
// tables, a preview video and zip archives.
//
// Usage:
//
//	bagsplit [flags] <bag>
//	bagsplit history --ledger <db> [--run <id>]
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
		fmt.Fprintln(os.Stderr, "bagsplit:", err)
		stop()
		os.Exit(1)
	}
}
