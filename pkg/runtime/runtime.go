// Package runtime provides the top-level DPLang runtime orchestrator.
//
// A Runtime compiles source into a Program: parsed, validated and with
// its packages executed once. A Program is read-only and may be shared;
// each Interpreter created from it owns its history and processes rows
// one at a time.
package runtime

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/formatter"
	"github.com/thomasrohde/dplang/pkg/history"
	"github.com/thomasrohde/dplang/pkg/packages"
	"github.com/thomasrohde/dplang/pkg/parser"
	"github.com/thomasrohde/dplang/pkg/stdlib"
	"github.com/thomasrohde/dplang/pkg/validator"
)

// Budget bounds a run. Zero fields select the defaults: the evaluator's
// call depth and iteration limits, and no row or time limit.
type Budget struct {
	MaxCallDepth  int
	MaxIterations int64
	MaxRows       int
	Timeout       time.Duration
}

// Runtime wires together all DPLang components for script execution.
type Runtime struct {
	stdlib *stdlib.Registry
	loader *packages.Loader
	logger zerolog.Logger
	trace  func(event evaluator.TraceEvent)
	debug  io.Writer
	window int
	budget Budget
	runID  string
}

// Option is a functional option for configuring the Runtime.
type Option func(*Runtime)

// WithStdlib sets the stdlib registry.
func WithStdlib(r *stdlib.Registry) Option {
	return func(rt *Runtime) {
		rt.stdlib = r
	}
}

// WithPackagePaths sets the package search path.
func WithPackagePaths(paths ...string) Option {
	return func(rt *Runtime) {
		rt.loader = packages.NewLoader(paths...)
	}
}

// WithLoader sets the package loader.
func WithLoader(l *packages.Loader) Option {
	return func(rt *Runtime) {
		rt.loader = l
	}
}

// WithLogger sets the logger for run lifecycle and handled row errors.
func WithLogger(l zerolog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithTrace sets the trace callback.
func WithTrace(fn func(event evaluator.TraceEvent)) Option {
	return func(rt *Runtime) {
		rt.trace = fn
	}
}

// WithDebug sets the writer print() writes to.
func WithDebug(w io.Writer) Option {
	return func(rt *Runtime) {
		rt.debug = w
	}
}

// WithWindow sets the number of rows of history each instance retains.
func WithWindow(rows int) Option {
	return func(rt *Runtime) {
		rt.window = rows
	}
}

// WithBudget sets the run limits.
func WithBudget(b Budget) Option {
	return func(rt *Runtime) {
		rt.budget = b
	}
}

// WithRunID sets the run ID for trace events and logs. Without it every
// interpreter instance gets a fresh UUID.
func WithRunID(id string) Option {
	return func(rt *Runtime) {
		rt.runID = id
	}
}

// New creates a new Runtime with the given options.
// By default the stdlib defaults are registered, packages are searched in
// packages.DefaultPaths, history keeps history.DefaultCapacity rows and
// logging is disabled.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		stdlib: stdlib.Default(),
		loader: packages.NewLoader(),
		logger: zerolog.Nop(),
		window: history.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() zerolog.Logger {
	return rt.logger
}

func (rt *Runtime) newRunID() string {
	if rt.runID != "" {
		return rt.runID
	}
	return uuid.New().String()
}

// Builtins returns every builtin function name, sorted.
func (rt *Runtime) Builtins() []string {
	names := append(evaluator.IntrinsicNames(), rt.stdlib.Names()...)
	sort.Strings(names)
	return names
}

func (rt *Runtime) evaluator(pkgs map[string]map[string]evaluator.Value, hist evaluator.History, runID string) *evaluator.Evaluator {
	return evaluator.New(evaluator.Options{
		Stdlib:   rt.stdlib.All(),
		Packages: pkgs,
		History:  hist,
		Debug:    rt.debug,
		Trace:    rt.trace,
		RunID:    runID,
		Budget:   evaluator.Budget{MaxCallDepth: rt.budget.MaxCallDepth, MaxIterations: rt.budget.MaxIterations},
	})
}

// Compile parses, validates and links a data script. Lex, parse and
// semantic errors are returned as a *DiagnosticError; warnings are kept
// on the Program.
func (rt *Runtime) Compile(source, filename string) (*Program, error) {
	script, diags := parser.Parse(source, filename)
	if len(diags) > 0 {
		return nil, &DiagnosticError{Diagnostics: diags}
	}
	if script.ScriptKind == ast.PackageScript {
		span := script.Span
		return nil, &DiagnosticError{Diagnostics: []diagnostics.Diagnostic{diagnostics.MakeDiag(
			diagnostics.EPackage, fmt.Sprintf("package %s cannot be run; import it from a data script", script.Name), &span, "")}}
	}

	exports, err := rt.loadPackages(script.Imports())
	if err != nil {
		return nil, err
	}

	vDiags := validator.Validate(script, validator.Options{Builtins: rt.Builtins(), Packages: memberNames(exports)})
	if diagnostics.HasErrors(vDiags) {
		return nil, &DiagnosticError{Diagnostics: diagnostics.Errors(vDiags)}
	}
	return newProgram(rt, script, exports, vDiags), nil
}

// Check parses and validates a script without executing rows. Package
// scripts are checked too. Warnings are included.
func (rt *Runtime) Check(source, filename string) []diagnostics.Diagnostic {
	script, diags := parser.Parse(source, filename)
	if len(diags) > 0 {
		return diags
	}
	exports, err := rt.loadPackages(script.Imports())
	if err != nil {
		var de *DiagnosticError
		if errors.As(err, &de) {
			return de.Diagnostics
		}
		return []diagnostics.Diagnostic{diagnostics.MakeDiag(diagnostics.EPackage, err.Error(), nil, "")}
	}
	return validator.Validate(script, validator.Options{Builtins: rt.Builtins(), Packages: memberNames(exports)})
}

// Format parses and formats a DPLang script.
func (rt *Runtime) Format(source, filename string) (string, error) {
	script, diags := parser.Parse(source, filename)
	if len(diags) > 0 {
		return "", &DiagnosticError{Diagnostics: diags}
	}
	return formatter.Format(script), nil
}

// loadPackages loads names and their imports, validates each package and
// executes it once, in dependency order. The result maps every loaded
// package to its exported bindings.
func (rt *Runtime) loadPackages(names []string) (map[string]map[string]evaluator.Value, error) {
	exports := map[string]map[string]evaluator.Value{}
	if len(names) == 0 {
		return exports, nil
	}
	pkgs, err := rt.loader.Load(names)
	if err != nil {
		var pe *packages.Error
		if errors.As(err, &pe) {
			return nil, &DiagnosticError{Diagnostics: pe.Diags}
		}
		return nil, fmt.Errorf("load packages: %w", err)
	}

	runID := rt.newRunID()
	for _, pkg := range pkgs {
		imports := map[string]map[string]evaluator.Value{}
		for _, dep := range pkg.Script.Imports() {
			imports[dep] = exports[dep]
		}
		diags := validator.Validate(pkg.Script, validator.Options{Builtins: rt.Builtins(), Packages: memberNames(imports)})
		if diagnostics.HasErrors(diags) {
			return nil, &DiagnosticError{Diagnostics: diagnostics.Errors(diags)}
		}

		members, err := rt.evaluator(imports, nil, runID).ExecPackage(pkg.Script, imports)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", pkg.Name, err)
		}
		exports[pkg.Name] = members
		rt.logger.Debug().Str("package", pkg.Name).Str("path", pkg.Path).Int("members", len(members)).Msg("package loaded")
		if rt.trace != nil {
			rt.trace(evaluator.TraceEvent{
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				RunID:     runID,
				Event:     evaluator.TracePackageLoad,
				Data:      map[string]any{"package": pkg.Name, "path": pkg.Path},
			})
		}
	}
	return exports, nil
}

func memberNames(exports map[string]map[string]evaluator.Value) map[string][]string {
	out := make(map[string][]string, len(exports))
	for pkg, members := range exports {
		names := make([]string, 0, len(members))
		for name := range members {
			names = append(names, name)
		}
		sort.Strings(names)
		out[pkg] = names
	}
	return out
}

// DiagnosticError wraps diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []diagnostics.Diagnostic
}

func (e *DiagnosticError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return strings.Join(msgs, "; ")
}
