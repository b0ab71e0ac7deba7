package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/config"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/logging"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitUsage       = 1 // bad flags, config or I/O
	ExitDiagnostics = 2 // the script does not compile
	ExitRuntime     = 4 // a row failed without an ERROR block to handle it
)

// ExitError ends a command with a specific exit code. Commands print
// their own diagnostics before returning one, so a nil Err prints nothing.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// app is the state shared by all subcommands: the persistent flags and
// the configuration resolved from them.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string
	pretty    bool

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd builds the dplang command tree.
func NewRootCmd() *cobra.Command {
	a := &app{cfg: config.Default(), logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:   "dplang",
		Short: "DPLang - streaming expression interpreter",
		Long: `DPLang runs small indicator scripts over tabular rows. Every row
sees the bounded history of earlier rows (close[-1], close[-5:0]).

  dplang run ma.dp --input prices.csv
  dplang check ma.dp --pretty
  dplang serve ma.dp --addr :8765
  dplang help syntax`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "task file (.toml or .yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "trace, debug, info, warn, error or disabled")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "console or json")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human readable diagnostics")

	root.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newFmtCmd(a),
		newTokensCmd(a),
		newReplCmd(a),
		newServeCmd(a),
		newTraceCmd(a),
		newVersionCmd(),
	)
	root.SetHelpCommand(newHelpCmd(root))
	return root
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	return Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// Run executes the CLI with args on the given streams and returns the
// exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return exitCode(stderr, root.Execute())
}

func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(stderr, "error: %v\n", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitUsage
}

// setup loads the task file and builds the logger. Flags given on the
// command line override file values.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.cfgFile != "" {
		cfg, err := config.Load(a.cfgFile)
		if err != nil {
			return a.fail(cmd, ExitUsage, configDiag(err))
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = a.logFormat
	}
	if err := a.cfg.Validate(); err != nil {
		return a.fail(cmd, ExitUsage, configDiag(err))
	}

	logger, err := logging.New(logging.Options{
		Level:  a.cfg.Log.Level,
		Format: a.cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return a.fail(cmd, ExitUsage, configDiag(err))
	}
	a.logger = logger
	return nil
}

// fail prints diags to stderr and returns an ExitError with code.
func (a *app) fail(cmd *cobra.Command, code int, diags ...diagnostics.Diagnostic) error {
	a.printDiagnostics(cmd.ErrOrStderr(), diags)
	return &ExitError{Code: code}
}

func (a *app) printDiagnostics(w io.Writer, diags []diagnostics.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	fmt.Fprintln(w, diagnostics.FormatDiagnostics(diags, a.pretty))
}

// failErr maps an error from the runtime to its diagnostics and exit code.
func (a *app) failErr(cmd *cobra.Command, err error) error {
	var diagErr *runtime.DiagnosticError
	if errors.As(err, &diagErr) {
		return a.fail(cmd, ExitDiagnostics, diagErr.Diagnostics...)
	}
	var rtErr *evaluator.RuntimeError
	if errors.As(err, &rtErr) {
		d := rtErr.Diagnostic()
		d.Message = err.Error()
		return a.fail(cmd, ExitRuntime, d)
	}
	return a.fail(cmd, ExitRuntime, ioDiag("%v", err))
}

// readSource reads a script file, or stdin for "-".
func readSource(cmd *cobra.Command, file string) (string, string, error) {
	if file == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), "<stdin>", nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", "", fmt.Errorf("cannot read file: %s", file)
	}
	return string(data), file, nil
}

// loadSource is readSource with the failure reported as E_IO.
func (a *app) loadSource(cmd *cobra.Command, file string) (string, string, error) {
	source, filename, err := readSource(cmd, file)
	if err != nil {
		return "", "", a.fail(cmd, ExitUsage, ioDiag("%v", err))
	}
	return source, filename, nil
}

// scriptArg returns the script named on the command line, falling back
// to task.script from the config file.
func (a *app) scriptArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.cfg.Task.Script != "" {
		return a.cfg.Task.Script, nil
	}
	return "", errors.New("no script given (pass a file or set task.script in --config)")
}

func ioDiag(format string, args ...any) diagnostics.Diagnostic {
	return diagnostics.MakeDiag(diagnostics.EIO, fmt.Sprintf(format, args...), nil, "")
}

func configDiag(err error) diagnostics.Diagnostic {
	return diagnostics.MakeDiag(diagnostics.EConfig, err.Error(), nil, "")
}
