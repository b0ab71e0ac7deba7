package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/help"
)

// newHelpCmd replaces cobra's help command. Command names still show the
// command's usage; anything else is looked up as a language topic.
func newHelpCmd(root *cobra.Command) *cobra.Command {
	var index bool
	cmd := &cobra.Command{
		Use:   "help [topic|command]",
		Short: "Language reference and command help",
		Long: `Without arguments prints the DPLang quick reference.

Topics: ` + strings.Join(help.TopicList, ", ") + `

A topic may be abbreviated to any unique prefix. 'dplang help stdlib
--index' lists every builtin function.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if index {
				if len(args) == 0 || args[0] != "stdlib" {
					return &ExitError{Code: ExitUsage, Err: fmt.Errorf("--index is only supported for the stdlib topic")}
				}
				fmt.Fprint(out, help.StdlibIndex())
				return nil
			}
			if len(args) == 0 {
				fmt.Fprint(out, help.QUICKREF)
				return nil
			}
			if sub, _, err := root.Find(args); err == nil && sub != root {
				return sub.Help()
			}
			_, content, err := help.MatchTopic(args[0])
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("%w\navailable topics: %s", err, strings.Join(help.TopicList, ", "))}
			}
			fmt.Fprint(out, content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&index, "index", false, "list all builtins (with the stdlib topic)")
	return cmd
}
