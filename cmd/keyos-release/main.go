package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmd"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/config"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	config.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(int(util.CodeFor(err)))
	}
}
