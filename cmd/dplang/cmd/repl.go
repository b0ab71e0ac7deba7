package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/rowio"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

const (
	promptMain  = "dp> "
	promptCont  = "... "
	historyFile = ".dplang_history"
	replFile    = "<repl>"
)

const replHelp = `Expressions print their value; assignments and function definitions
are kept for later lines. A line ending in ':' starts a block that ends
with an empty line.

With a script argument every line is an input row as a JSON object,
e.g. {"close": 10.5}, and the output row is printed.

  :import NAME   import a package
  :session       show the kept statements
  :reset         forget statements, or restart the script's history
  :quit          leave
`

func newReplCmd(a *app) *cobra.Command {
	var pkgPaths []string
	cmd := &cobra.Command{
		Use:   "repl [script.dp]",
		Short: "Interactive evaluation",
		Long:  "Starts an interactive session.\n\n" + replHelp,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("package-path") {
				a.cfg.Task.PackagePaths = pkgPaths
			}
			rt := runtime.New(
				runtime.WithLogger(a.logger),
				runtime.WithWindow(a.cfg.Task.Window),
				runtime.WithPackagePaths(a.cfg.Task.PackagePaths...),
				runtime.WithDebug(cmd.OutOrStdout()),
			)
			session := &replSession{rt: rt}
			if len(args) == 1 {
				source, filename, err := a.loadSource(cmd, args[0])
				if err != nil {
					return err
				}
				prog, err := rt.Compile(source, filename)
				if err != nil {
					return a.failErr(cmd, err)
				}
				session.inst = prog.NewInstance()
			}
			return a.repl(cmd, session)
		},
	}
	cmd.Flags().StringSliceVar(&pkgPaths, "package-path", nil, "directories searched for imported packages")
	return cmd
}

func (a *app) repl(cmd *cobra.Command, session *replSession) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "DPLang "+Version+" - :help for commands, :quit to leave")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		chunk, ok := readChunk(ln)
		if !ok {
			fmt.Fprintln(out)
			return nil
		}
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(chunk, "\n", " "))

		text, err := session.eval(chunk)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			a.printReplError(cmd.ErrOrStderr(), err)
			continue
		}
		if text != "" {
			fmt.Fprintln(out, text)
		}
	}
}

func (a *app) printReplError(w io.Writer, err error) {
	var diagErr *runtime.DiagnosticError
	var rtErr *evaluator.RuntimeError
	switch {
	case errors.As(err, &diagErr):
		fmt.Fprintln(w, diagnostics.FormatDiagnostics(diagErr.Diagnostics, true))
	case errors.As(err, &rtErr):
		fmt.Fprintln(w, diagnostics.FormatDiagnostic(rtErr.Diagnostic(), true))
	default:
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

// readChunk reads one line, or a block when the line ends with ':'. It
// reports false at end of input.
func readChunk(ln *liner.State) (string, bool) {
	line, err := ln.Prompt(promptMain)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", true
	}
	if err != nil {
		return "", false
	}
	if !strings.HasSuffix(strings.TrimSpace(line), ":") {
		return line, true
	}
	var b strings.Builder
	b.WriteString(line)
	for {
		next, err := ln.Prompt(promptCont)
		if err != nil || strings.TrimSpace(next) == "" {
			return b.String(), true
		}
		b.WriteByte('\n')
		b.WriteString(next)
	}
}

var errQuit = errors.New("quit")

// replSession evaluates REPL input. Without a script, kept statements are
// replayed in a fresh single-row program for every expression. With one,
// each input is a row fed to the script's instance.
type replSession struct {
	rt      *runtime.Runtime
	imports []string
	stmts   []string
	inst    *runtime.Interpreter
}

func (s *replSession) eval(chunk string) (string, error) {
	trimmed := strings.TrimSpace(chunk)
	if strings.HasPrefix(trimmed, ":") {
		return s.command(trimmed)
	}
	if s.inst != nil {
		return s.row(trimmed)
	}

	prog, exprErr := s.rt.Compile(s.source("return "+chunk), replFile)
	if exprErr == nil {
		return s.runOnce(prog)
	}

	prog, err := s.rt.Compile(s.source(chunk), replFile)
	if err != nil {
		if isSyntaxError(exprErr) {
			return "", err
		}
		return "", exprErr
	}
	text, err := s.runOnce(prog)
	if err != nil {
		return "", err
	}
	// A chunk that returns is evaluated, not kept.
	if text == "" {
		s.stmts = append(s.stmts, chunk)
	}
	return text, nil
}

func (s *replSession) command(line string) (string, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return "", errQuit
	case ":help", ":h":
		return strings.TrimRight(replHelp, "\n"), nil
	case ":reset":
		if s.inst != nil {
			s.inst.Reset()
			return "history cleared", nil
		}
		s.stmts, s.imports = nil, nil
		return "session cleared", nil
	case ":session":
		return strings.Join(append(s.headers(), s.stmts...), "\n"), nil
	case ":import":
		if len(fields) != 2 {
			return "", errors.New("usage: :import NAME")
		}
		s.imports = append(s.imports, fields[1])
		if _, err := s.rt.Compile(s.source(""), replFile); err != nil {
			s.imports = s.imports[:len(s.imports)-1]
			return "", err
		}
		return "", nil
	}
	return "", fmt.Errorf("unknown command %s, type :help", fields[0])
}

func (s *replSession) headers() []string {
	if len(s.imports) == 0 {
		return nil
	}
	return []string{"-- IMPORT " + strings.Join(s.imports, ", ") + " --"}
}

func (s *replSession) source(last string) string {
	lines := append(s.headers(), s.stmts...)
	if last != "" {
		lines = append(lines, last)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (s *replSession) runOnce(prog *runtime.Program) (string, error) {
	out, err := prog.NewInstance().ExecuteOne(evaluator.Row{})
	if err != nil || out == nil {
		return "", err
	}
	return evaluator.FormatValue(out[runtime.ResultField]), nil
}

func (s *replSession) row(line string) (string, error) {
	row, err := rowio.NewJSONReader(strings.NewReader(line)).Next()
	if err != nil {
		return "", fmt.Errorf("input rows are JSON objects: %w", err)
	}
	out, err := s.inst.ExecuteOne(row)
	if errors.Is(err, runtime.ErrHalted) {
		return "halted, :reset to start over", nil
	}
	if err != nil {
		return "", err
	}
	if out == nil {
		return "(no output)", nil
	}
	b, err := evaluator.RowToJSON(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isSyntaxError(err error) bool {
	var diagErr *runtime.DiagnosticError
	if !errors.As(err, &diagErr) {
		return false
	}
	for _, d := range diagErr.Diagnostics {
		switch d.Code {
		case diagnostics.ESyntax, diagnostics.EUnexpectedToken, diagnostics.EIndent:
			return true
		}
	}
	return false
}
