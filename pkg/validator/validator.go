// Package validator implements semantic validation of DPLang scripts.
//
// Validation runs once per script before any row is processed. It reports
// undefined names, re-binding of a name in the same scope, exit outside the
// ERROR block and unknown package members as errors, and unused variables
// as warnings.
package validator

import (
	"fmt"
	"strings"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// Options tells the validator which names exist outside the script.
type Options struct {
	// Builtins lists every builtin function name (evaluator intrinsics and
	// stdlib).
	Builtins []string
	// Packages maps each loaded package to its exported members. A nil map
	// skips member checks; an imported package missing from a non-nil map
	// is reported.
	Packages map[string][]string
}

// Names bound in every row scope by the runtime.
const (
	IndexVar = "_index"
	ErrorVar = "_error"
)

// ErrorFields are the members readable on _error inside the ERROR block.
var ErrorFields = []string{"kind", "message", "line", "code"}

var historyIntrinsics = map[string]bool{"ref": true, "offset": true, "past": true, "window": true}

type binding struct {
	span ast.Span
	used bool
	warn bool
}

type scope struct {
	bindings map[string]*binding
	order    []string
	parent   *scope
	// history marks scopes where column names are readable by offset.
	history bool
	// frame marks a function or lambda scope; its params hide columns.
	frame bool
}

func newScope(parent *scope) *scope {
	s := &scope{bindings: make(map[string]*binding), parent: parent}
	if parent != nil {
		s.history = parent.history
	}
	return s
}

func (s *scope) lookup(name string) *binding {
	for sc := s; sc != nil; sc = sc.parent {
		if b, ok := sc.bindings[name]; ok {
			return b
		}
	}
	return nil
}

func (s *scope) hasLocal(name string) bool {
	_, ok := s.bindings[name]
	return ok
}

func (s *scope) add(name string, span ast.Span, warn bool) {
	if _, ok := s.bindings[name]; !ok {
		s.order = append(s.order, name)
	}
	s.bindings[name] = &binding{span: span, warn: warn}
}

func (s *scope) names() []string {
	seen := map[string]bool{}
	var out []string
	for sc := s; sc != nil; sc = sc.parent {
		for _, name := range sc.order {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// localColumn reports whether name resolves to a frame-local binding
// rather than a history column.
func (s *scope) localColumn(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.frame && sc.hasLocal(name) {
			return true
		}
		if sc.frame {
			return false
		}
	}
	return false
}

type validator struct {
	diags    []diagnostics.Diagnostic
	opts     Options
	builtins map[string]bool
	columns  map[string]bool
	outputs  map[string]bool
	imports  map[string]bool
	inError  bool
}

// Validate performs semantic analysis on a DPLang script and returns
// diagnostics. Warnings never block execution; use diagnostics.HasErrors.
func Validate(script *ast.Script, opts Options) []diagnostics.Diagnostic {
	v := &validator{
		opts:     opts,
		builtins: make(map[string]bool, len(opts.Builtins)),
		columns:  make(map[string]bool),
		outputs:  make(map[string]bool),
		imports:  make(map[string]bool),
	}
	for _, name := range opts.Builtins {
		v.builtins[name] = true
	}
	v.validateHeaders(script)

	global := newScope(nil)
	v.declareFunctions(script.Functions, global)

	if script.ScriptKind == ast.PackageScript {
		v.validatePackage(script, global)
		return v.diags
	}

	row := newScope(global)
	row.history = true
	row.add(IndexVar, script.Span, false)
	for _, p := range script.Inputs() {
		row.add(p.Name, p.Span, false)
	}

	v.validateStatements(script.Body, row)
	if script.HasErrorBlock {
		handler := newScope(row)
		handler.add(ErrorVar, script.ErrorSpan, false)
		v.inError = true
		v.validateStatements(script.ErrorBlock, handler)
		v.inError = false
		v.reportUnused(handler)
	}
	v.reportUnused(row)

	for _, fn := range script.Functions {
		v.validateFunction(fn, global)
	}
	return v.diags
}

func (v *validator) addDiag(code, msg string, span *ast.Span, hint string) {
	v.diags = append(v.diags, diagnostics.MakeDiag(code, msg, span, hint))
}

func (v *validator) addWarning(code, msg string, span *ast.Span) {
	v.diags = append(v.diags, diagnostics.MakeWarning(code, msg, span, ""))
}

func (v *validator) validateHeaders(script *ast.Script) {
	seen := map[string]bool{}
	for _, p := range script.Inputs() {
		if seen[p.Name] {
			span := p.Span
			v.addDiag(diagnostics.EShadow, fmt.Sprintf("INPUT field '%s' is declared twice", p.Name), &span, "")
		}
		seen[p.Name] = true
		v.columns[p.Name] = true
	}
	outSeen := map[string]bool{}
	for _, p := range script.Outputs() {
		if outSeen[p.Name] {
			span := p.Span
			v.addDiag(diagnostics.EShadow, fmt.Sprintf("OUTPUT field '%s' is declared twice", p.Name), &span, "")
		}
		outSeen[p.Name] = true
		v.columns[p.Name] = true
		v.outputs[p.Name] = true
	}

	for _, h := range script.Headers {
		decl, ok := h.(*ast.ImportDecl)
		if !ok {
			continue
		}
		for _, name := range decl.Names {
			v.imports[name] = true
			if v.opts.Packages == nil {
				continue
			}
			if _, loaded := v.opts.Packages[name]; !loaded {
				span := decl.Span
				v.addDiag(diagnostics.EPackage, fmt.Sprintf("package '%s' is not loaded", name), &span, "")
			}
		}
	}
}

func (v *validator) declareFunctions(fns []*ast.FnDecl, sc *scope) {
	for _, fn := range fns {
		if sc.hasLocal(fn.Name) {
			span := fn.Span
			v.addDiag(diagnostics.EShadow, fmt.Sprintf("function '%s' is already defined", fn.Name), &span, "")
			continue
		}
		sc.add(fn.Name, fn.Span, false)
	}
}

func (v *validator) validatePackage(script *ast.Script, global *scope) {
	for _, stmt := range script.Body {
		s, ok := stmt.(*ast.AssignStmt)
		if !ok {
			span := stmt.NodeSpan()
			v.addDiag(diagnostics.EPackage, "package scripts may only contain constant assignments and function definitions", &span, "")
			continue
		}
		v.validateExpr(s.Value, global)
		v.bind(s.Name, s.Span, global, false)
	}
	for _, fn := range script.Functions {
		v.validateFunction(fn, global)
	}
}

func (v *validator) validateFunction(fn *ast.FnDecl, sc *scope) {
	frame := newScope(sc)
	frame.frame = true
	for _, p := range fn.Params {
		if p.Default != nil {
			v.validateExpr(p.Default, frame)
		}
		if frame.hasLocal(p.Name) {
			span := p.Span
			v.addDiag(diagnostics.EShadow, fmt.Sprintf("parameter '%s' is declared twice in %s()", p.Name, fn.Name), &span, "")
		}
		frame.add(p.Name, p.Span, false)
	}
	v.validateStatements(fn.Body, frame)
	v.reportUnused(frame)
}

// bind declares name in sc, reporting a second binding in the same scope.
func (v *validator) bind(name string, span ast.Span, sc *scope, warn bool) {
	if name == "_" {
		return
	}
	if sc.hasLocal(name) {
		v.addDiag(diagnostics.EShadow,
			fmt.Sprintf("'%s' is already bound in this scope", name), &span,
			"bind the new value to a different name")
		return
	}
	sc.add(name, span, warn && !strings.HasPrefix(name, "_") && !v.outputs[name])
}

func (v *validator) validateStatements(stmts []ast.Stmt, sc *scope) {
	for _, stmt := range stmts {
		v.validateStmt(stmt, sc)
	}
}

func (v *validator) validateStmt(stmt ast.Stmt, sc *scope) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		v.validateExpr(s.Value, sc)
		v.bind(s.Name, s.Span, sc, true)

	case *ast.DestructureStmt:
		v.validateExpr(s.Value, sc)
		for _, target := range s.Targets {
			v.bind(target.Name, s.Span, sc, true)
		}

	case *ast.IfStmt:
		v.validateExpr(s.Cond, sc)
		v.validateBlock(s.Then, sc)
		for _, elif := range s.Elifs {
			v.validateExpr(elif.Cond, sc)
			v.validateBlock(elif.Body, sc)
		}
		if s.Else != nil {
			v.validateBlock(s.Else, sc)
		}

	case *ast.ReturnStmt:
		v.validateExpr(s.Value, sc)

	case *ast.ExitStmt:
		if !v.inError {
			span := s.Span
			v.addDiag(diagnostics.EExitOutsideError, "exit is only allowed inside the ERROR block", &span, "")
		}

	case *ast.ExprStmt:
		v.validateExpr(s.Expr, sc)

	case *ast.FnDecl:
		v.bind(s.Name, s.Span, sc, false)
		inError := v.inError
		v.inError = false
		v.validateFunction(s, sc)
		v.inError = inError
	}
}

func (v *validator) validateBlock(stmts []ast.Stmt, sc *scope) {
	child := newScope(sc)
	v.validateStatements(stmts, child)
	v.reportUnused(child)
}

func (v *validator) reportUnused(sc *scope) {
	for _, name := range sc.order {
		b := sc.bindings[name]
		if b.warn && !b.used {
			span := b.span
			v.addWarning(diagnostics.WUnused, fmt.Sprintf("variable '%s' is assigned but never used", name), &span)
		}
	}
}

// use resolves a name read, reporting it when nothing defines it.
func (v *validator) use(name string, span ast.Span, sc *scope, what string) {
	if b := sc.lookup(name); b != nil {
		b.used = true
		return
	}
	if v.builtins[name] {
		return
	}
	candidates := append(sc.names(), v.opts.Builtins...)
	v.addDiag(diagnostics.EUndefined,
		fmt.Sprintf("undefined %s '%s'", what, name), &span,
		diagnostics.DidYouMean(name, candidates))
}

// column reports whether an identifier read at sc refers to column
// history, which exists even before the name is bound in the row.
func (v *validator) column(e ast.Expr, sc *scope) bool {
	id, ok := e.(*ast.Ident)
	if !ok || !v.columns[id.Name] || !sc.history || sc.localColumn(id.Name) {
		return false
	}
	if b := sc.lookup(id.Name); b != nil {
		b.used = true
	}
	return true
}

func (v *validator) validateExpr(expr ast.Expr, sc *scope) {
	switch e := expr.(type) {
	case nil, *ast.NumberLiteral, *ast.BoolLiteral, *ast.StrLiteral, *ast.NullLiteral:
		// literals are always valid

	case *ast.Ident:
		v.use(e.Name, e.Span, sc, "variable")

	case *ast.MemberExpr:
		v.validateMember(e, sc)

	case *ast.ArrayExpr:
		for _, elem := range e.Elements {
			v.validateExpr(elem, sc)
		}

	case *ast.SpreadExpr:
		v.validateExpr(e.Operand, sc)

	case *ast.BinaryExpr:
		v.validateExpr(e.Left, sc)
		v.validateExpr(e.Right, sc)

	case *ast.UnaryExpr:
		v.validateExpr(e.Operand, sc)

	case *ast.TernaryExpr:
		v.validateExpr(e.Cond, sc)
		v.validateExpr(e.Then, sc)
		v.validateExpr(e.Else, sc)

	case *ast.PipeExpr:
		v.validateExpr(e.Value, sc)
		for _, stage := range e.Stages {
			v.validateExpr(stage, sc)
		}

	case *ast.LambdaExpr:
		frame := newScope(sc)
		frame.frame = true
		for _, p := range e.Params {
			frame.add(p, e.Span, false)
		}
		v.validateExpr(e.Body, frame)

	case *ast.CallExpr:
		v.validateCall(e, sc)

	case *ast.IndexExpr:
		if !v.column(e.Base, sc) {
			v.validateExpr(e.Base, sc)
		}
		v.validateExpr(e.Index, sc)

	case *ast.SliceExpr:
		if !v.column(e.Base, sc) {
			v.validateExpr(e.Base, sc)
		}
		v.validateExpr(e.Start, sc)
		v.validateExpr(e.End, sc)
	}
}

func (v *validator) validateCall(e *ast.CallExpr, sc *scope) {
	args := e.Args
	switch callee := e.Callee.(type) {
	case *ast.Ident:
		v.use(callee.Name, callee.Span, sc, "function")
		if historyIntrinsics[callee.Name] && sc.lookup(callee.Name) == nil && len(args) > 0 {
			if v.column(args[0], sc) {
				args = args[1:]
			}
		}
	default:
		v.validateExpr(callee, sc)
	}
	for _, a := range args {
		v.validateExpr(a, sc)
	}
}

func (v *validator) validateMember(e *ast.MemberExpr, sc *scope) {
	span := e.Span
	if e.Object == ErrorVar {
		if sc.lookup(ErrorVar) == nil {
			v.addDiag(diagnostics.EUndefined, "'_error' is only defined inside the ERROR block", &span, "")
			return
		}
		sc.lookup(ErrorVar).used = true
		for _, f := range ErrorFields {
			if f == e.Member {
				return
			}
		}
		v.addDiag(diagnostics.EUndefined, fmt.Sprintf("_error has no field '%s'", e.Member), &span,
			diagnostics.DidYouMean(e.Member, ErrorFields))
		return
	}

	if !v.imports[e.Object] {
		v.addDiag(diagnostics.EUndefined, fmt.Sprintf("package '%s' is not imported", e.Object), &span,
			fmt.Sprintf("add '-- IMPORT %s --'", e.Object))
		return
	}
	members, loaded := v.opts.Packages[e.Object]
	if !loaded {
		return
	}
	for _, m := range members {
		if m == e.Member {
			return
		}
	}
	v.addDiag(diagnostics.EUndefined, fmt.Sprintf("package '%s' has no member '%s'", e.Object, e.Member), &span,
		diagnostics.DidYouMean(e.Member, members))
}
