package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/node"
)

func main() {
	path := flag.String("config", "cmd/bridgectl/config.toml", "bridge config path")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := node.DefaultServiceConfig()
	if _, err := os.Stat(*path); err == nil {
		loaded, err := loadServiceConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc, err := node.NewServiceWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}
