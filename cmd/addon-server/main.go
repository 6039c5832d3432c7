package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/app"
	"github.com/JakeFAU/einthusan-addon/internal/config"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	runErr := a.Run(ctx)
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "close failed: %v\n", err)
	}
	if runErr != nil {
		zap.L().Error("server exited with error", zap.Error(runErr))
		os.Exit(1)
	}
}
