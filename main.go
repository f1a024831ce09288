package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.RootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
