// Package app wires configuration into a ready explorer for the binaries.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/canonical/python-module-explorer/internal/config"
	"github.com/canonical/python-module-explorer/internal/explorer"
	"github.com/canonical/python-module-explorer/internal/indexer"
	"github.com/canonical/python-module-explorer/internal/introspect"
	"github.com/canonical/python-module-explorer/internal/metrics"
	"github.com/canonical/python-module-explorer/internal/runner"
	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
	"github.com/canonical/python-module-explorer/internal/venv"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    *storage.Store
	Explorer *explorer.Explorer

	// Index and Searcher are nil when the help index could not be opened.
	Index    *search.SQLiteIndexer
	Searcher *search.SQLiteSearcher
}

// Open opens the database and help index named by cfg and builds the
// explorer on top. An unusable help index is logged and skipped.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Registry: reg, Metrics: m, Store: store}

	if a.Index, err = search.NewSQLiteIndexer(cfg.IndexPath()); err != nil {
		logger.Warn("search index unavailable", "error", err)
	} else if a.Searcher, err = search.NewSQLiteSearcher(cfg.IndexPath()); err != nil {
		logger.Warn("search index unavailable", "error", err)
	}

	invoker := &runner.Instrumented{Next: runner.NewExecInvoker(), Metrics: m, Logger: logger}
	extractor := introspect.NewExtractor(invoker, logger)
	extractor.Metrics = m
	extractor.ChunkSize = cfg.HelpChunkSize

	opts := explorer.Options{
		Store:            store,
		Extractor:        extractor,
		Venvs:            venv.NewManager(cfg.Python, invoker, logger),
		Logger:           logger,
		EnvsDir:          cfg.EnvsDir(),
		MinPythonVersion: cfg.MinPythonVersion,
		CallTimeout:      cfg.CallTimeout.Std(),
		InstallTimeout:   cfg.InstallTimeout.Std(),
		CacheSize:        cfg.CacheSize,
		CacheTTL:         cfg.CacheTTL.Std(),
	}
	// Typed nils must not reach the interface fields.
	if a.Index != nil {
		opts.Index = a.Index
	}
	if a.Searcher != nil {
		opts.Searcher = a.Searcher
	}
	a.Explorer = explorer.New(opts)
	return a, nil
}

// Indexer returns a module indexer over the explorer using the configured
// concurrency and failure log.
func (a *App) Indexer() *indexer.Runner {
	return &indexer.Runner{
		Source:       a.Explorer,
		Logger:       a.Logger,
		Concurrency:  a.Config.IndexConcurrency,
		FailuresPath: a.Config.FailuresPath(),
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if a.Searcher != nil {
		errs = append(errs, a.Searcher.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
