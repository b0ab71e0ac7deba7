package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/lexer"
)

type tokenJSON struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
	Line  int    `json:"line"`
	Col   int    `json:"col"`
}

func newTokensCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tokens <script.dp>",
		Short: "Print the token stream of a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, filename, err := a.loadSource(cmd, args[0])
			if err != nil {
				return err
			}
			tokens, err := lexer.Tokenize(source, filename)
			if err != nil {
				var le *lexer.LexError
				if errors.As(err, &le) {
					return a.fail(cmd, ExitDiagnostics, le.Diag)
				}
				return a.fail(cmd, ExitDiagnostics, ioDiag("%v", err))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, tok := range tokens {
					_ = enc.Encode(tokenJSON{Type: tok.Type.String(), Value: tok.Value, Line: tok.Span.StartLine, Col: tok.Span.StartCol})
				}
				return nil
			}
			for _, tok := range tokens {
				fmt.Fprintf(out, "%d:%d\t%s", tok.Span.StartLine, tok.Span.StartCol, tok.Type)
				if tok.Value != "" {
					fmt.Fprintf(out, "\t%q", tok.Value)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "one JSON object per token")
	return cmd
}
