package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

var (
	version = "latest"
	gitHash = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	arguments := NewRuntimeArguments()
	rootCmd := arguments.MakeCmd()
	err := rootCmd.ExecuteContext(ctx)
	logs.Sync()
	if err != nil {
		os.Exit(1)
	}
}
