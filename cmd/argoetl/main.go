// Command argoetl loads Argo NetCDF profile files into the analytics store.
//
// The command is best-effort at file granularity: individual corrupt or
// unresolvable files are logged and skipped, and the process still exits 0.
// Fatal configuration, connectivity, or discovery failures exit 1.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
