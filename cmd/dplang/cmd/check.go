package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

func newCheckCmd(a *app) *cobra.Command {
	var pkgPaths []string
	cmd := &cobra.Command{
		Use:   "check [script.dp]",
		Short: "Parse and validate a script without running it",
		Long: `Parses and validates a data or package script, loading its imports.
Errors exit with status 2; warnings are printed but do not fail.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("package-path") {
				a.cfg.Task.PackagePaths = pkgPaths
			}
			script, err := a.scriptArg(args)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			source, filename, err := a.loadSource(cmd, script)
			if err != nil {
				return err
			}

			rt := runtime.New(runtime.WithLogger(a.logger), runtime.WithPackagePaths(a.cfg.Task.PackagePaths...))
			diags := rt.Check(source, filename)
			if diagnostics.HasErrors(diags) {
				return a.fail(cmd, ExitDiagnostics, diags...)
			}
			a.printDiagnostics(cmd.ErrOrStderr(), diags)
			if a.pretty {
				fmt.Fprintln(cmd.OutOrStdout(), "No errors found.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "[]")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&pkgPaths, "package-path", nil, "directories searched for imported packages")
	return cmd
}
