package runtime

import (
	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/history"
)

// ResultField names the single output column of a script without OUTPUT.
const ResultField = "result"

// Program is a compiled data script with its package bindings. It is
// read-only after Compile and may be shared by any number of
// interpreters, including concurrently running ones.
type Program struct {
	rt       *Runtime
	script   *ast.Script
	packages map[string]map[string]evaluator.Value
	columns  []string
	warnings []diagnostics.Diagnostic
}

func newProgram(rt *Runtime, script *ast.Script, pkgs map[string]map[string]evaluator.Value, warnings []diagnostics.Diagnostic) *Program {
	return &Program{rt: rt, script: script, packages: pkgs, columns: historyColumns(script), warnings: warnings}
}

// Script returns the parsed script.
func (p *Program) Script() *ast.Script { return p.script }

// Warnings returns the non-fatal diagnostics found while compiling.
func (p *Program) Warnings() []diagnostics.Diagnostic { return p.warnings }

// Columns returns the names whose history is kept: the declared inputs
// and outputs. Other variables index as plain values.
func (p *Program) Columns() []string { return p.columns }

// OutputNames returns the output column names in declaration order.
func (p *Program) OutputNames() []string {
	outs := p.script.Outputs()
	if len(outs) == 0 {
		return []string{ResultField}
	}
	names := make([]string, len(outs))
	for i, o := range outs {
		names[i] = o.Name
	}
	return names
}

// NewInstance creates an interpreter with its own history store.
func (p *Program) NewInstance() *Interpreter {
	runID := p.rt.newRunID()
	store := history.New(p.rt.window, p.columns...)
	ev := p.rt.evaluator(p.packages, store, runID)

	globals := evaluator.NewEnv(nil)
	evaluator.BindFunctions(p.script.Functions, globals, "", p.packages)

	return &Interpreter{
		prog:    p,
		ev:      ev,
		store:   store,
		globals: globals,
		runID:   runID,
		logger:  p.rt.logger.With().Str("run_id", runID).Logger(),
	}
}

func historyColumns(script *ast.Script) []string {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		if name == "_" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, p := range script.Inputs() {
		add(p.Name)
	}
	for _, p := range script.Outputs() {
		add(p.Name)
	}
	return names
}
