package search

import "context"

// Indexer abstracts the help index so callers do not depend on a specific
// full-text implementation.
type Indexer interface {
	IndexHelp(ctx context.Context, doc HelpDoc) error
	RemoveEnvironment(ctx context.Context, envID string) error
	Flush() error
	Close() error
}

// HelpDoc is one module's rendered help text within an environment.
type HelpDoc struct {
	EnvID   string
	Module  string
	Content string
}
