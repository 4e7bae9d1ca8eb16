// Package indexer renders many modules of an environment concurrently so
// their attributes and help are mirrored and searchable.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/canonical/python-module-explorer/internal/introspect"
)

// ModuleSource produces module data, storing and indexing it as a side
// effect. *explorer.Explorer satisfies it.
type ModuleSource interface {
	Attributes(ctx context.Context, envID, module string) ([]introspect.Attribute, error)
	Help(ctx context.Context, envID, module string) (string, error)
}

// Status is the progress of one run.
type Status struct {
	EnvID        string
	Stage        string // "waiting", "processing", "done", "error"
	Total        int
	Done         int
	Errors       int
	FailuresPath string
}

// ModuleError is a per-module failure. It is recorded, not returned.
type ModuleError struct {
	Module string
	Stage  string
	Err    error
}

func (e *ModuleError) Error() string { return fmt.Sprintf("%s %s: %v", e.Stage, e.Module, e.Err) }
func (e *ModuleError) Unwrap() error { return e.Err }

type Runner struct {
	Source      ModuleSource
	Logger      *slog.Logger
	Concurrency int
	// FailuresPath, when set, receives one line per failed module as it
	// happens.
	FailuresPath string

	mu       sync.Mutex
	status   Status
	failures []string
}

// Run processes modules with at most Concurrency in flight. Module
// failures, import errors included, are recorded and do not stop the run;
// only cancellation does.
func (r *Runner) Run(ctx context.Context, envID string, modules []string) (Status, error) {
	if r.Source == nil {
		return Status{}, errors.New("indexer runner missing module source")
	}
	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}

	r.mu.Lock()
	r.status = Status{EnvID: envID, Stage: "processing", Total: len(modules), FailuresPath: r.FailuresPath}
	r.failures = nil
	r.mu.Unlock()

	// Create the failure log up front so it can be tailed during the run.
	if r.FailuresPath != "" {
		_ = os.MkdirAll(filepath.Dir(r.FailuresPath), 0o755)
		_ = os.WriteFile(r.FailuresPath, nil, 0o644)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, module := range modules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.processModule(gctx, envID, module); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.recordFailure(err)
			}
			r.mu.Lock()
			r.status.Done++
			r.mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	r.mu.Lock()
	if err != nil {
		r.status.Stage = "error"
	} else {
		r.status.Stage = "done"
	}
	s := r.status
	r.mu.Unlock()

	if r.Logger != nil {
		if s.Errors > 0 {
			r.Logger.Warn("indexing completed with failures", "env", envID, "total", s.Total, "errors", s.Errors)
		} else {
			r.Logger.Info("indexing done", "env", envID, "total", s.Total)
		}
	}
	if err != nil {
		return s, fmt.Errorf("index %s: %w", envID, err)
	}
	return s, nil
}

func (r *Runner) processModule(ctx context.Context, envID, module string) error {
	if r.Logger != nil {
		r.Logger.Debug("indexing module", "env", envID, "module", module)
	}
	if _, err := r.Source.Attributes(ctx, envID, module); err != nil {
		return &ModuleError{Module: module, Stage: "attributes", Err: err}
	}
	if _, err := r.Source.Help(ctx, envID, module); err != nil {
		return &ModuleError{Module: module, Stage: "help", Err: err}
	}
	return nil
}

// Status returns a snapshot of the current or last run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Failures returns the failure messages of the current or last run.
func (r *Runner) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failures...)
}

func (r *Runner) recordFailure(err error) {
	message := strings.TrimSpace(err.Error())
	r.mu.Lock()
	r.failures = append(r.failures, message)
	r.status.Errors++
	r.mu.Unlock()

	// Append to the failure log immediately so users can tail it.
	if r.FailuresPath != "" {
		f, ferr := os.OpenFile(r.FailuresPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr == nil {
			_, _ = fmt.Fprintln(f, message)
			_ = f.Close()
		}
	}

	if r.Logger != nil {
		var me *ModuleError
		if errors.As(err, &me) {
			r.Logger.Warn("module failed", "module", me.Module, "stage", me.Stage, "error", me.Err)
		}
	}
}
