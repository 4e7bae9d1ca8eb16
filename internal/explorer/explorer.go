// Package explorer is the service layer shared by the HTTP server, the CLI
// and the native messaging host. It resolves environments, serves module
// data from cache or the database mirror, and falls back to the
// interpreter.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/canonical/python-module-explorer/internal/cache"
	"github.com/canonical/python-module-explorer/internal/introspect"
	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
	"github.com/canonical/python-module-explorer/internal/venv"
)

// ErrInvalidInput marks requests rejected before any work is done.
var ErrInvalidInput = errors.New("invalid input")

// DocSearcher queries the full-text help index.
type DocSearcher interface {
	Search(ctx context.Context, query, envID string, limit, offset int) (search.SearchResponse, error)
}

type Options struct {
	Store     *storage.Store
	Extractor *introspect.Extractor
	Venvs     *venv.Manager
	// Index and Searcher are optional.
	Index    search.Indexer
	Searcher DocSearcher
	Logger   *slog.Logger

	EnvsDir          string
	MinPythonVersion string
	CallTimeout      time.Duration
	InstallTimeout   time.Duration
	CacheSize        int
	CacheTTL         time.Duration
}

type Explorer struct {
	store     *storage.Store
	extractor *introspect.Extractor
	venvs     *venv.Manager
	index     search.Indexer
	searcher  DocSearcher
	logger    *slog.Logger

	envsDir        string
	minPython      string
	callTimeout    time.Duration
	installTimeout time.Duration

	attrs *cache.Cache[[]introspect.Attribute]
	help  *cache.Cache[string]
}

func New(opts Options) *Explorer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := opts.Extractor.Metrics
	return &Explorer{
		store:          opts.Store,
		extractor:      opts.Extractor,
		venvs:          opts.Venvs,
		index:          opts.Index,
		searcher:       opts.Searcher,
		logger:         logger,
		envsDir:        opts.EnvsDir,
		minPython:      opts.MinPythonVersion,
		callTimeout:    opts.CallTimeout,
		installTimeout: opts.InstallTimeout,
		attrs:          cache.New[[]introspect.Attribute]("attributes", opts.CacheSize, opts.CacheTTL, m),
		help:           cache.New[string]("help", opts.CacheSize, opts.CacheTTL, m),
	}
}

var envNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ==================== Environments ====================

// CreateEnvironment makes a virtual environment and records it. An empty
// path places it under the environments directory by name.
func (e *Explorer) CreateEnvironment(ctx context.Context, name, path string) (*storage.Environment, error) {
	if !envNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: environment name %q", ErrInvalidInput, name)
	}
	if path == "" {
		if e.envsDir == "" {
			return nil, fmt.Errorf("%w: environment path is required", ErrInvalidInput)
		}
		path = filepath.Join(e.envsDir, name)
	}
	if _, err := e.store.EnvironmentByName(ctx, name); err == nil {
		return nil, fmt.Errorf("environment %q: %w", name, storage.ErrExists)
	}

	ctx, cancel := e.withTimeout(ctx, e.installTimeout)
	defer cancel()

	existed := venv.Handle{Root: path}.IsVenv()
	h, err := e.venvs.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	version, err := e.venvs.PythonVersion(ctx, h.Interpreter())
	if err != nil {
		e.discard(h, existed)
		return nil, err
	}
	if err := venv.CheckPythonVersion(version, e.minPython); err != nil {
		e.discard(h, existed)
		return nil, err
	}

	env, err := e.store.CreateEnvironment(ctx, storage.Environment{Name: name, Path: h.Root, PythonVersion: version})
	if err != nil {
		e.discard(h, existed)
		return nil, err
	}
	e.logger.Info("environment created", "id", env.ID, "name", name, "path", h.Root, "python", version)
	return env, nil
}

// EnsureEnvironment returns the environment called name, creating it at
// path on first use.
func (e *Explorer) EnsureEnvironment(ctx context.Context, name, path string) (*storage.Environment, error) {
	env, err := e.store.EnvironmentByName(ctx, name)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return e.CreateEnvironment(ctx, name, path)
}

func (e *Explorer) Environment(ctx context.Context, id string) (*storage.Environment, error) {
	return e.store.GetEnvironment(ctx, id)
}

func (e *Explorer) ListEnvironments(ctx context.Context) ([]storage.Environment, error) {
	return e.store.ListEnvironments(ctx)
}

// DeleteEnvironment removes the environment from disk, the database, the
// help index and the caches.
func (e *Explorer) DeleteEnvironment(ctx context.Context, id string) error {
	env, err := e.store.GetEnvironment(ctx, id)
	if err != nil {
		return err
	}
	if err := e.venvs.Remove(venv.Handle{Root: env.Path}); err != nil {
		if !errors.Is(err, venv.ErrNotVenv) {
			return err
		}
		e.logger.Warn("environment directory is gone or not a venv", "id", id, "path", env.Path)
	}
	if err := e.store.DeleteEnvironment(ctx, id); err != nil {
		return err
	}
	if e.index != nil {
		if err := e.index.RemoveEnvironment(ctx, id); err != nil {
			e.logger.Warn("failed to drop environment from help index", "id", id, "error", err)
		}
	}
	e.attrs.Invalidate(id)
	e.help.Invalidate(id)
	e.logger.Info("environment deleted", "id", id, "name", env.Name)
	return nil
}

func (e *Explorer) discard(h venv.Handle, existed bool) {
	if existed {
		return
	}
	if err := e.venvs.Remove(h); err != nil {
		e.logger.Warn("failed to clean up environment", "path", h.Root, "error", err)
	}
}

// ==================== Packages ====================

// InstallPackage installs into the environment, records the package and
// drops what is known about the environment's modules. The package's top
// level module is then rendered again so it is searchable right away;
// failing that is only logged since import names often differ from
// distribution names.
func (e *Explorer) InstallPackage(ctx context.Context, envID, name, version string) (*storage.Package, error) {
	env, err := e.store.GetEnvironment(ctx, envID)
	if err != nil {
		return nil, err
	}
	if _, err := venv.PackageSpec(name, version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	installCtx, cancel := e.withTimeout(ctx, e.installTimeout)
	defer cancel()
	if err := e.venvs.Install(installCtx, venv.Handle{Root: env.Path}, name, version); err != nil {
		return nil, err
	}

	pkg, err := e.store.AddPackage(ctx, envID, name, version)
	if err != nil {
		return nil, err
	}
	if err := e.store.ClearModules(ctx, envID); err != nil {
		return nil, err
	}
	e.attrs.Invalidate(envID)
	e.help.Invalidate(envID)

	module := ImportName(name)
	if _, err := e.Help(ctx, envID, module); err != nil {
		e.logger.Warn("installed package module not indexed", "env", envID, "package", name, "module", module, "error", err)
	}
	return pkg, nil
}

func (e *Explorer) Packages(ctx context.Context, envID string) ([]storage.Package, error) {
	if _, err := e.store.GetEnvironment(ctx, envID); err != nil {
		return nil, err
	}
	return e.store.ListPackages(ctx, envID)
}

// ImportName guesses the top level module of a distribution.
func ImportName(distribution string) string {
	return strings.ReplaceAll(venv.NormalizeName(distribution), "-", "_")
}

// ==================== Modules ====================

// Modules lists the modules with stored data in the environment.
func (e *Explorer) Modules(ctx context.Context, envID string) ([]string, error) {
	if _, err := e.store.GetEnvironment(ctx, envID); err != nil {
		return nil, err
	}
	return e.store.ModuleNames(ctx, envID)
}

// Attributes returns the attributes of module in the environment.
func (e *Explorer) Attributes(ctx context.Context, envID, module string) ([]introspect.Attribute, error) {
	env, err := e.store.GetEnvironment(ctx, envID)
	if err != nil {
		return nil, err
	}
	return e.attrs.Do(ctx, cache.Key{EnvID: envID, Module: module}, func(ctx context.Context) ([]introspect.Attribute, error) {
		attrs, err := e.store.Attributes(ctx, envID, module)
		if err == nil {
			return attrs, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		callCtx, cancel := e.withTimeout(ctx, e.callTimeout)
		defer cancel()
		attrs, err = e.extractor.ExtractAttributes(callCtx, module, venv.Handle{Root: env.Path})
		if err != nil {
			return nil, err
		}
		if err := e.store.SaveAttributes(ctx, envID, module, attrs); err != nil {
			e.logger.Warn("failed to store attributes", "env", envID, "module", module, "error", err)
		}
		return attrs, nil
	})
}

// Help returns the rendered help text of module in the environment. Newly
// rendered text is stored and indexed unless it arrived incomplete.
func (e *Explorer) Help(ctx context.Context, envID, module string) (string, error) {
	env, err := e.store.GetEnvironment(ctx, envID)
	if err != nil {
		return "", err
	}
	return e.help.Do(ctx, cache.Key{EnvID: envID, Module: module}, func(ctx context.Context) (string, error) {
		text, err := e.store.Help(ctx, envID, module)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}

		callCtx, cancel := e.withTimeout(ctx, e.callTimeout)
		defer cancel()
		text, complete, err := e.extractor.RenderHelpChecked(callCtx, module, venv.Handle{Root: env.Path})
		if err != nil {
			return "", err
		}
		if !complete {
			// Partial text is served once; the next call renders again.
			return text, cache.ErrNoStore
		}
		if err := e.store.SaveHelp(ctx, envID, module, text); err != nil {
			e.logger.Warn("failed to store help", "env", envID, "module", module, "error", err)
		}
		e.indexHelp(ctx, envID, module, text)
		return text, nil
	})
}

func (e *Explorer) indexHelp(ctx context.Context, envID, module, text string) {
	if e.index == nil {
		return
	}
	err := e.index.IndexHelp(ctx, search.HelpDoc{EnvID: envID, Module: module, Content: text})
	if err == nil {
		err = e.index.Flush()
	}
	if err != nil {
		e.logger.Warn("failed to index help", "env", envID, "module", module, "error", err)
	}
}

// SearchAttributes filters the module's attributes by query and kind.
func (e *Explorer) SearchAttributes(ctx context.Context, envID, module, query string, kind search.Kind) ([]introspect.Attribute, error) {
	attrs, err := e.Attributes(ctx, envID, module)
	if err != nil {
		return nil, err
	}
	return search.FilterAttributes(attrs, query, kind), nil
}

// MatchResult is the located matches of a query in a module's help text.
type MatchResult struct {
	Module  string         `json:"module"`
	Query   string         `json:"query"`
	Kind    search.Kind    `json:"kind"`
	Total   int            `json:"total"`
	Matches []search.Match `json:"matches"`
}

// Matches finds query in the module's help text.
func (e *Explorer) Matches(ctx context.Context, envID, module, query string, kind search.Kind) (*MatchResult, error) {
	text, err := e.Help(ctx, envID, module)
	if err != nil {
		return nil, err
	}
	matches := search.ComputeMatches(text, query, kind)
	if matches == nil {
		matches = []search.Match{}
	}
	return &MatchResult{Module: module, Query: query, Kind: kind, Total: len(matches), Matches: matches}, nil
}

// SearchDocs runs a full-text query over indexed help. An empty envID
// searches every environment.
func (e *Explorer) SearchDocs(ctx context.Context, envID, query string, limit, offset int) (search.SearchResponse, error) {
	if e.searcher == nil {
		return search.SearchResponse{Results: []search.Result{}}, nil
	}
	if envID != "" {
		if _, err := e.store.GetEnvironment(ctx, envID); err != nil {
			return search.SearchResponse{}, err
		}
	}
	return e.searcher.Search(ctx, query, envID, limit, offset)
}

func (e *Explorer) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
