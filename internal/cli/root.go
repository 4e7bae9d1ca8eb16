// Package cli is the pyexplore command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canonical/python-module-explorer/internal/app"
	"github.com/canonical/python-module-explorer/internal/config"
	"github.com/canonical/python-module-explorer/internal/logging"
	"github.com/canonical/python-module-explorer/internal/storage"
)

type rootOptions struct {
	configPath string
	logLevel   string

	app *app.App
}

// NewRootCommand builds the pyexplore command tree. The explorer is opened
// before any subcommand runs and closed by Execute.
func NewRootCommand() (*cobra.Command, func() error) {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "pyexplore",
		Short:         "Explore Python modules installed in virtual environments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "path to config JSON or TOML")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newVenvCommand(opts),
		newInstallCommand(opts),
		newAttrsCommand(opts),
		newHelpCommand(opts),
		newDocsCommand(opts),
		newIndexCommand(opts),
	)

	closeFn := func() error {
		if opts.app == nil {
			return nil
		}
		err := opts.app.Close()
		opts.app = nil
		return err
	}
	return root, closeFn
}

// Execute runs the command line with ctx and releases the explorer.
func Execute(ctx context.Context, args []string) error {
	root, closeFn := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(os.Stdout)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, closeFn())
}

func (o *rootOptions) open(cmd *cobra.Command) error {
	if o.app != nil {
		return nil
	}
	logger := logging.BuildLoggerTo(cmd.ErrOrStderr(), o.logLevel)
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	o.app = a
	return nil
}

// resolveEnv accepts an environment id or name.
func (o *rootOptions) resolveEnv(ctx context.Context, ref string) (*storage.Environment, error) {
	if env, err := o.app.Explorer.Environment(ctx, ref); err == nil {
		return env, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	envs, err := o.app.Explorer.ListEnvironments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range envs {
		if envs[i].Name == ref {
			return &envs[i], nil
		}
	}
	return nil, fmt.Errorf("environment %q: %w", ref, storage.ErrNotFound)
}
