package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonical/python-module-explorer/internal/app"
	"github.com/canonical/python-module-explorer/internal/config"
	"github.com/canonical/python-module-explorer/internal/logging"
	"github.com/canonical/python-module-explorer/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config JSON or TOML")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	addr := flag.String("addr", "", "HTTP bind address (default from config)")
	flag.Parse()

	logger := logging.BuildLogger(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	a, err := app.Open(cfg, logger)
	if err != nil {
		logger.Error("open explorer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(a.Explorer, logger, a.Metrics)
	if err := server.ListenAndServe(ctx, cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
