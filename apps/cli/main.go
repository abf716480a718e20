package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xentri-app/xentri-api/apps/cli/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "xentri:", err)
		os.Exit(1)
	}
}
