package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ctxbridge/internal/config"
	"github.com/danmuck/ctxbridge/internal/logging"
)

func main() {
	path := flag.String("config", "cmd/relayd/config.toml", "relay config path")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := config.DefaultRelayConfig()
	if _, err := os.Stat(*path); err == nil {
		loaded, err := config.LoadRelayConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	srv, err := NewRelay(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}
