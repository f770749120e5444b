// Command monitor runs the change-monitoring service: the target API, the
// due-check scheduler and the worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/JakeFAU/change-monitor/internal/config"
	"github.com/JakeFAU/change-monitor/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return app.Run(ctx)
}
