// Command native-host is launched by the browser for the explorer
// extension. Stdout carries protocol frames only, so logs go to stderr or
// to -log-file.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonical/python-module-explorer/internal/app"
	"github.com/canonical/python-module-explorer/internal/config"
	"github.com/canonical/python-module-explorer/internal/logging"
	"github.com/canonical/python-module-explorer/internal/nativehost"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config JSON or TOML")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "Append logs to this file instead of stderr")
	// Browsers pass the extension origin as the first argument.
	flag.Parse()

	var logOut io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	logger := logging.BuildLoggerTo(logOut, *logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	a, err := app.Open(cfg, logger)
	if err != nil {
		logger.Error("open explorer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := nativehost.New(a.Explorer, cfg.DefaultEnvPath(), logger)
	logger.Info("native host started", "args", flag.Args())
	if err := host.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("native host stopped", "error", err)
		stop()
		_ = a.Close()
		os.Exit(1)
	}
}
