package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canonical/python-module-explorer/internal/explorer"
	"github.com/canonical/python-module-explorer/internal/search"
)

func newAttrsCommand(o *rootOptions) *cobra.Command {
	var (
		query    string
		kindName string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "attrs <env> <module>",
		Short: "List a module's attributes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := search.ParseKind(kindName)
			if err != nil {
				return err
			}
			env, err := o.resolveEnv(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			attrs, err := o.app.Explorer.SearchAttributes(cmd.Context(), env.ID, args[1], query, kind)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(attrs, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal attributes: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			if len(attrs) == 0 {
				cmd.Println("No attributes found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, a := range attrs {
				fmt.Fprintf(tw, "%s\t%s\n", a.Name, a.Type)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive filter on name, type and doc")
	cmd.Flags().StringVar(&kindName, "kind", "all", "attribute kind (all, function, class, method, property)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output attributes as JSON")
	return cmd
}

func newHelpCommand(o *rootOptions) *cobra.Command {
	var (
		query    string
		kindName string
		match    int
	)
	cmd := &cobra.Command{
		Use:   "help <env> <module>",
		Short: "Show a module's help text, optionally with matches marked",
		Long: `Prints the module's help text. With --query every match is wrapped in
[[ ]] and the current one (--match, counted from 1) in [[> <]].`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := search.ParseKind(kindName)
			if err != nil {
				return err
			}
			env, err := o.resolveEnv(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			text, err := o.app.Explorer.Help(cmd.Context(), env.ID, args[1])
			if err != nil {
				return err
			}
			if query == "" {
				cmd.Print(text)
				return nil
			}

			matches := search.ComputeMatches(text, query, kind)
			if len(matches) == 0 {
				cmd.PrintErrln("No matches.")
				cmd.Print(text)
				return nil
			}
			current := match - 1
			if current < 0 || current >= len(matches) {
				current = 0
			}
			cmd.PrintErrf("Match %d of %d (line %d)\n", current+1, len(matches), matches[current].Line+1)
			cmd.Print(search.PlainHighlighter.Render(text, matches, current))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "text to find in the help")
	cmd.Flags().StringVar(&kindName, "kind", "all", "only search lines mentioning this kind")
	cmd.Flags().IntVar(&match, "match", 1, "which match is current")
	return cmd
}

func newDocsCommand(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "docs <env> <query>",
		Short: "Full-text search over rendered help",
		Long:  `Searches the help of every module rendered so far. Use "-" as env to search all environments.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			envID := ""
			if args[0] != "-" {
				env, err := o.resolveEnv(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				envID = env.ID
			}
			res, err := o.app.Explorer.SearchDocs(cmd.Context(), envID, args[1], limit, 0)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if len(res.Results) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			cmd.Printf("%d result(s):\n", res.Total)
			for i, r := range res.Results {
				cmd.Printf("  [%d] %s\n", i+1, r.Module)
				cmd.Printf("      %s\n", r.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	return cmd
}

func newIndexCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <env> [module...]",
		Short: "Render and index modules",
		Long:  `Renders attributes and help for the given modules, or for every installed package when none are given.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := o.resolveEnv(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			modules := args[1:]
			if len(modules) == 0 {
				pkgs, err := o.app.Explorer.Packages(cmd.Context(), env.ID)
				if err != nil {
					return err
				}
				for _, p := range pkgs {
					modules = append(modules, explorer.ImportName(p.Name))
				}
			}
			if len(modules) == 0 {
				cmd.Println("Nothing to index.")
				return nil
			}

			status, err := o.app.Indexer().Run(cmd.Context(), env.ID, modules)
			if err != nil {
				return err
			}
			cmd.Printf("Indexed %d of %d module(s)", status.Done-status.Errors, status.Total)
			if status.Errors > 0 {
				cmd.Printf(", %d failed (see %s)", status.Errors, status.FailuresPath)
			}
			cmd.Println()
			return nil
		},
	}
	return cmd
}
