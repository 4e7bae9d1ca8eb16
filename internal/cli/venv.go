package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newVenvCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venv",
		Short: "Manage virtual environments",
	}

	var path string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a virtual environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := o.app.Explorer.CreateEnvironment(cmd.Context(), args[0], path)
			if err != nil {
				return err
			}
			cmd.Printf("Created %s (%s) at %s, Python %s\n", env.Name, env.ID, env.Path, env.PythonVersion)
			return nil
		},
	}
	create.Flags().StringVar(&path, "path", "", "directory for the environment (default under the data dir)")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List virtual environments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envs, err := o.app.Explorer.ListEnvironments(cmd.Context())
			if err != nil {
				return err
			}
			if len(envs) == 0 {
				cmd.Println("No environments.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tPYTHON\tPATH")
			for _, env := range envs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", env.Name, env.ID, env.PythonVersion, env.Path)
			}
			return tw.Flush()
		},
	}

	rm := &cobra.Command{
		Use:     "rm <env>",
		Aliases: []string{"delete"},
		Short:   "Delete a virtual environment and everything known about it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := o.resolveEnv(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := o.app.Explorer.DeleteEnvironment(cmd.Context(), env.ID); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", env.Name)
			return nil
		},
	}

	cmd.AddCommand(create, list, rm)
	return cmd
}

func newInstallCommand(o *rootOptions) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "install <env> <package>",
		Short: "Install a package into an environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := o.resolveEnv(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pkg, err := o.app.Explorer.InstallPackage(cmd.Context(), env.ID, args[1], version)
			if err != nil {
				return err
			}
			if pkg.Version != "" {
				cmd.Printf("Installed %s %s into %s\n", pkg.Name, pkg.Version, env.Name)
			} else {
				cmd.Printf("Installed %s into %s\n", pkg.Name, env.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "exact version to install (default latest)")
	return cmd
}
