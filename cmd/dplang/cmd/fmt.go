package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/formatter"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

func newFmtCmd(a *app) *cobra.Command {
	var write, check bool
	cmd := &cobra.Command{
		Use:   "fmt <script.dp>",
		Short: "Print a script in canonical form",
		Long: `Prints the script in canonical form: 4-space indentation, one space
around binary operators, minimal parentheses. Comments are not kept.

  --write   replace the file instead of printing
  --check   exit 1 when the file is not already formatted`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := args[0]
			source, filename, err := a.loadSource(cmd, file)
			if err != nil {
				return err
			}

			formatted, err := runtime.New().Format(source, filename)
			if err != nil {
				return a.failErr(cmd, err)
			}
			if formatter.HasComments(source) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: comments are not preserved by the formatter")
			}

			switch {
			case check:
				if formatted != source {
					fmt.Fprintln(cmd.OutOrStdout(), filename)
					return &ExitError{Code: ExitUsage}
				}
			case write && file != "-":
				if err := os.WriteFile(file, []byte(formatted), 0o644); err != nil {
					return a.fail(cmd, ExitUsage, ioDiag("error writing file: %v", err))
				}
			default:
				fmt.Fprint(cmd.OutOrStdout(), formatted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file")
	cmd.Flags().BoolVar(&check, "check", false, "report files that are not formatted")
	return cmd
}
