package evaluator

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// TraceEventType identifies the type of a trace event.
type TraceEventType string

const (
	TraceRunStart     TraceEventType = "run_start"
	TraceRunEnd       TraceEventType = "run_end"
	TraceRowStart     TraceEventType = "row_start"
	TraceRowEnd       TraceEventType = "row_end"
	TraceStmtStart    TraceEventType = "stmt_start"
	TraceFnCallStart  TraceEventType = "fn_call_start"
	TraceFnCallEnd    TraceEventType = "fn_call_end"
	TraceErrorHandled TraceEventType = "error_handled"
	TraceExit         TraceEventType = "exit"
	TracePackageLoad  TraceEventType = "package_load"
)

// TraceEvent represents a single trace event emitted during execution.
type TraceEvent struct {
	Timestamp string         `json:"ts"`
	RunID     string         `json:"runId"`
	Event     TraceEventType `json:"event"`
	Span      *ast.Span      `json:"span,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// StdlibFn defines a standard library function.
type StdlibFn struct {
	Name    string
	Execute func(args []Value) (Value, error)
}

// History is the row context's view of the streaming history store.
// Offsets are relative to the current row: -1 is the previous row and 0
// the current, not yet committed, row.
type History interface {
	// Tracked reports whether name is a history column.
	Tracked(name string) bool
	// GetOffset returns the value n rows back, or Null. Offset 0 reads
	// the staged value of the current row.
	GetOffset(name string, n int) Value
	// GetSlice returns the inclusive range [start, end] as a view padded
	// with Null where no row is available.
	GetSlice(name string, start, end int) Value
	// Stage records the current row's value so slices ending at 0 see it.
	Stage(name string, v Value)
	// Earliest returns the offset of the oldest retained row (<= 0).
	Earliest() int
}

// Options configures an Evaluator.
type Options struct {
	Stdlib   map[string]*StdlibFn
	Packages map[string]map[string]Value
	History  History
	Debug    io.Writer
	Trace    func(event TraceEvent)
	RunID    string
	Budget   Budget
}

// FlowKind tells how a statement sequence finished.
type FlowKind int

const (
	FlowNormal FlowKind = iota
	FlowReturn
	FlowExit
)

// Flow is the outcome of executing a statement list. Recovered is set
// when the ERROR block handled a runtime error in the main body.
type Flow struct {
	Kind      FlowKind
	Value     Value
	Recovered *RuntimeError
}

// Evaluator executes DPLang ASTs. An Evaluator belongs to a single
// interpreter instance and is not safe for concurrent use.
type Evaluator struct {
	opts      Options
	budget    Budget
	tracker   BudgetTracker
	packages  map[string]map[string]Value
	errInfo   *RuntimeError
	inHandler bool
}

// New creates an evaluator.
func New(opts Options) *Evaluator {
	return &Evaluator{opts: opts, budget: opts.Budget.withDefaults(), packages: opts.Packages}
}

func (ev *Evaluator) emit(event TraceEventType, span *ast.Span, data map[string]any) {
	if ev.opts.Trace != nil {
		ev.opts.Trace(TraceEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			RunID:     ev.opts.RunID,
			Event:     event,
			Span:      span,
			Data:      data,
		})
	}
}

// BindFunctions defines each declaration in env. Function bodies close
// over env and resolve member access against imports.
func BindFunctions(fns []*ast.FnDecl, env *Env, pkg string, imports map[string]map[string]Value) {
	for _, fn := range fns {
		env.Set(fn.Name, Function{Decl: fn, Closure: env, Package: pkg, Imports: imports})
	}
}

// ExecPackage runs a package script once and returns its exported
// bindings. Names starting with '_' stay private.
func (ev *Evaluator) ExecPackage(script *ast.Script, imports map[string]map[string]Value) (map[string]Value, error) {
	saved := ev.packages
	ev.packages = imports
	defer func() { ev.packages = saved }()

	env := NewEnv(nil)
	BindFunctions(script.Functions, env, script.Name, imports)
	flow, err := ev.ExecBlock(script.Body, env)
	if err != nil {
		return nil, err
	}
	if flow.Kind != FlowNormal {
		return nil, Errorf(diagnostics.EPackage, "package %s: return and exit are not allowed at top level", script.Name)
	}

	exports := make(map[string]Value, len(env.bindings))
	for name, v := range env.bindings {
		if strings.HasPrefix(name, "_") {
			continue
		}
		exports[name] = v
	}
	return exports, nil
}

// ExecRow runs the main body of a data script in the row scope env. A
// runtime error transfers control to the ERROR block when the script has
// one; without it the error is returned.
func (ev *Evaluator) ExecRow(script *ast.Script, env *Env) (Flow, error) {
	flow, err := ev.ExecBlock(script.Body, env)
	if err == nil {
		return flow, nil
	}
	return ev.HandleError(script, env, err)
}

// HandleError runs the ERROR block of script for err, with _error bound
// in a child of env. Errors that are not runtime errors, and any error of
// a script without an ERROR block, are returned unchanged.
func (ev *Evaluator) HandleError(script *ast.Script, env *Env, err error) (Flow, error) {
	var re *RuntimeError
	if !errors.As(err, &re) || !script.HasErrorBlock {
		return Flow{}, err
	}

	span := script.ErrorSpan
	ev.emit(TraceErrorHandled, &span, map[string]any{"kind": re.Kind(), "message": re.Message})

	handler := env.Child()
	handler.Set("_error", String{Value: re.Message})
	ev.errInfo, ev.inHandler = re, true
	defer func() { ev.errInfo, ev.inHandler = nil, false }()

	flow, err := ev.ExecBlock(script.ErrorBlock, handler)
	if err != nil {
		return Flow{}, err
	}
	if flow.Kind == FlowExit {
		ev.emit(TraceExit, &span, nil)
	}
	flow.Recovered = re
	return flow, nil
}

// ExecBlock executes statements in order until one returns or exits.
func (ev *Evaluator) ExecBlock(stmts []ast.Stmt, env *Env) (Flow, error) {
	for _, stmt := range stmts {
		if ev.opts.Trace != nil {
			span := stmt.NodeSpan()
			ev.emit(TraceStmtStart, &span, map[string]any{"kind": stmt.Kind()})
		}
		flow, err := ev.exec(stmt, env)
		if err != nil {
			return Flow{}, err
		}
		if flow.Kind != FlowNormal {
			return flow, nil
		}
	}
	return Flow{Kind: FlowNormal}, nil
}

func (ev *Evaluator) exec(stmt ast.Stmt, env *Env) (Flow, error) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		val, err := ev.Eval(s.Value, env)
		if err != nil {
			return Flow{}, err
		}
		env.Set(s.Name, val)

	case *ast.DestructureStmt:
		val, err := ev.Eval(s.Value, env)
		if err != nil {
			return Flow{}, err
		}
		if err := ev.destructure(s, val, env); err != nil {
			return Flow{}, err
		}

	case *ast.IfStmt:
		return ev.execIf(s, env)

	case *ast.ReturnStmt:
		if s.Value == nil {
			return Flow{Kind: FlowReturn, Value: Null{}}, nil
		}
		val, err := ev.Eval(s.Value, env)
		if err != nil {
			return Flow{}, err
		}
		return Flow{Kind: FlowReturn, Value: val}, nil

	case *ast.ExitStmt:
		if !ev.inHandler {
			span := s.Span
			return Flow{}, &RuntimeError{
				Code:    diagnostics.EExitOutsideError,
				Message: "exit is only allowed inside the ERROR block",
				Span:    &span,
			}
		}
		return Flow{Kind: FlowExit}, nil

	case *ast.ExprStmt:
		if _, err := ev.Eval(s.Expr, env); err != nil {
			return Flow{}, err
		}

	case *ast.FnDecl:
		BindFunctions([]*ast.FnDecl{s}, env, "", ev.packages)

	default:
		return Flow{}, TypeErrorf("unsupported statement %s", stmt.Kind())
	}
	return Flow{Kind: FlowNormal}, nil
}

func (ev *Evaluator) execIf(s *ast.IfStmt, env *Env) (Flow, error) {
	cond, err := ev.Eval(s.Cond, env)
	if err != nil {
		return Flow{}, err
	}
	if Truthiness(cond) {
		return ev.ExecBlock(s.Then, env.Child())
	}
	for _, elif := range s.Elifs {
		cond, err := ev.Eval(elif.Cond, env)
		if err != nil {
			return Flow{}, err
		}
		if Truthiness(cond) {
			return ev.ExecBlock(elif.Body, env.Child())
		}
	}
	if s.Else != nil {
		return ev.ExecBlock(s.Else, env.Child())
	}
	return Flow{Kind: FlowNormal}, nil
}

func (ev *Evaluator) destructure(s *ast.DestructureStmt, val Value, env *Env) error {
	arr, ok := AsArrayLike(val)
	if !ok {
		span := s.Span
		return &RuntimeError{
			Code:    diagnostics.EType,
			Message: fmt.Sprintf("cannot destructure %s", TypeName(val)),
			Span:    &span,
		}
	}
	for i, t := range s.Targets {
		if t.Rest {
			var rest []Value
			for j := i; j < arr.Len(); j++ {
				rest = append(rest, arr.At(j))
			}
			if rest == nil {
				rest = []Value{}
			}
			if t.Name != "_" {
				env.Set(t.Name, Array{Items: rest})
			}
			return nil
		}
		if t.Name != "_" {
			env.Set(t.Name, arr.At(i))
		}
	}
	return nil
}

// Eval evaluates an expression in env.
func (ev *Evaluator) Eval(expr ast.Expr, env *Env) (Value, error) {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		return Number{Value: e.Value}, nil
	case *ast.StrLiteral:
		return String{Value: e.Value}, nil
	case *ast.BoolLiteral:
		return Bool{Value: e.Value}, nil
	case *ast.NullLiteral:
		return Null{}, nil

	case *ast.Ident:
		return ev.evalIdent(e, env)

	case *ast.MemberExpr:
		return ev.evalMember(e)

	case *ast.ArrayExpr:
		return ev.evalArray(e, env)

	case *ast.SpreadExpr:
		span := e.Span
		return nil, &RuntimeError{Code: diagnostics.ESyntax, Message: "spread is only allowed inside an array literal", Span: &span}

	case *ast.BinaryExpr:
		return ev.evalBinary(e, env)

	case *ast.UnaryExpr:
		operand, err := ev.Eval(e.Operand, env)
		if err != nil {
			return nil, err
		}
		if e.Op == ast.OpNot {
			return Not(operand), nil
		}
		v, err := Negate(operand)
		if err != nil {
			return nil, atSpan(err, e.Span)
		}
		return v, nil

	case *ast.TernaryExpr:
		cond, err := ev.Eval(e.Cond, env)
		if err != nil {
			return nil, err
		}
		if Truthiness(cond) {
			return ev.Eval(e.Then, env)
		}
		return ev.Eval(e.Else, env)

	case *ast.LambdaExpr:
		return Lambda{Params: e.Params, Body: e.Body, Captured: env.Snapshot(e.Captures)}, nil

	case *ast.CallExpr:
		return ev.evalCall(e, env, nil)

	case *ast.PipeExpr:
		return ev.evalPipe(e, env)

	case *ast.IndexExpr:
		return ev.evalIndex(e, env)

	case *ast.SliceExpr:
		return ev.evalSlice(e, env)
	}

	return nil, TypeErrorf("unsupported expression %T", expr)
}

func (ev *Evaluator) evalIdent(e *ast.Ident, env *Env) (Value, error) {
	if v, ok := env.Get(e.Name); ok {
		return v, nil
	}
	if ev.isBuiltin(e.Name) {
		return Builtin{Name: e.Name}, nil
	}
	span := e.Span
	return nil, &RuntimeError{
		Code:    diagnostics.EUndefined,
		Message: fmt.Sprintf("undefined variable '%s'", e.Name),
		Span:    &span,
		Hint:    diagnostics.DidYouMean(e.Name, env.Names()),
	}
}

func (ev *Evaluator) evalMember(e *ast.MemberExpr) (Value, error) {
	span := e.Span
	if e.Object == "_error" && ev.errInfo != nil {
		switch e.Member {
		case "kind":
			return String{Value: ev.errInfo.Kind()}, nil
		case "message":
			return String{Value: ev.errInfo.Message}, nil
		case "line":
			return Number{Value: float64(ev.errInfo.Line())}, nil
		case "code":
			return String{Value: ev.errInfo.Code}, nil
		}
		return nil, &RuntimeError{
			Code:    diagnostics.EUndefined,
			Message: fmt.Sprintf("_error has no field '%s'", e.Member),
			Span:    &span,
			Hint:    diagnostics.DidYouMean(e.Member, []string{"kind", "message", "line", "code"}),
		}
	}

	members, ok := ev.packages[e.Object]
	if !ok {
		names := make([]string, 0, len(ev.packages))
		for name := range ev.packages {
			names = append(names, name)
		}
		return nil, &RuntimeError{
			Code:    diagnostics.EUndefined,
			Message: fmt.Sprintf("unknown package '%s'", e.Object),
			Span:    &span,
			Hint:    diagnostics.DidYouMean(e.Object, names),
		}
	}
	v, ok := members[e.Member]
	if !ok {
		names := make([]string, 0, len(members))
		for name := range members {
			names = append(names, name)
		}
		return nil, &RuntimeError{
			Code:    diagnostics.EUndefined,
			Message: fmt.Sprintf("package '%s' has no member '%s'", e.Object, e.Member),
			Span:    &span,
			Hint:    diagnostics.DidYouMean(e.Member, names),
		}
	}
	return v, nil
}

func (ev *Evaluator) evalArray(e *ast.ArrayExpr, env *Env) (Value, error) {
	items := make([]Value, 0, len(e.Elements))
	for _, el := range e.Elements {
		if spread, ok := el.(*ast.SpreadExpr); ok {
			v, err := ev.Eval(spread.Operand, env)
			if err != nil {
				return nil, err
			}
			elems, ok := Elements(v)
			if !ok {
				span := spread.Span
				return nil, &RuntimeError{
					Code:    diagnostics.EType,
					Message: fmt.Sprintf("cannot spread %s", TypeName(v)),
					Span:    &span,
				}
			}
			items = append(items, elems...)
			continue
		}
		v, err := ev.Eval(el, env)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return Array{Items: items}, nil
}

func (ev *Evaluator) evalBinary(e *ast.BinaryExpr, env *Env) (Value, error) {
	left, err := ev.Eval(e.Left, env)
	if err != nil {
		return nil, err
	}

	if e.Op == ast.OpAnd || e.Op == ast.OpOr {
		if _, isArr := AsArrayLike(left); !isArr {
			truthy := Truthiness(left)
			if e.Op == ast.OpAnd && !truthy {
				return Bool{Value: false}, nil
			}
			if e.Op == ast.OpOr && truthy {
				return Bool{Value: true}, nil
			}
		}
		right, err := ev.Eval(e.Right, env)
		if err != nil {
			return nil, err
		}
		v, err := Logical(e.Op, left, right)
		if err != nil {
			return nil, atSpan(err, e.Span)
		}
		return v, nil
	}

	right, err := ev.Eval(e.Right, env)
	if err != nil {
		return nil, err
	}

	var v Value
	if e.Op.IsComparison() {
		v, err = Compare(e.Op, left, right)
	} else {
		v, err = Arithmetic(e.Op, left, right)
	}
	if err != nil {
		return nil, atSpan(err, e.Span)
	}
	return v, nil
}

func (ev *Evaluator) evalPipe(e *ast.PipeExpr, env *Env) (Value, error) {
	val, err := ev.Eval(e.Value, env)
	if err != nil {
		return nil, err
	}
	for _, stage := range e.Stages {
		if call, ok := stage.(*ast.CallExpr); ok {
			val, err = ev.evalCall(call, env, val)
			if err != nil {
				return nil, err
			}
			continue
		}
		fn, err := ev.Eval(stage, env)
		if err != nil {
			return nil, err
		}
		val, err = ev.Call(fn, []Value{val}, stage.NodeSpan())
		if err != nil {
			return nil, err
		}
	}
	return val, nil
}

// evalCall evaluates a call expression. A non-nil piped value is inserted
// as the first argument.
func (ev *Evaluator) evalCall(e *ast.CallExpr, env *Env, piped Value) (Value, error) {
	span := e.Span

	var fn Value
	switch callee := e.Callee.(type) {
	case *ast.Ident:
		if v, ok := env.Get(callee.Name); ok {
			if !IsCallable(v) {
				return nil, &RuntimeError{
					Code:    diagnostics.EType,
					Message: fmt.Sprintf("'%s' is %s, not a function", callee.Name, TypeName(v)),
					Span:    &span,
				}
			}
			fn = v
			break
		}
		if !ev.isBuiltin(callee.Name) {
			return nil, &RuntimeError{
				Code:    diagnostics.EUndefined,
				Message: fmt.Sprintf("undefined function '%s'", callee.Name),
				Span:    &span,
				Hint:    diagnostics.DidYouMean(callee.Name, append(env.Names(), ev.builtinNames()...)),
			}
		}
		fn = Builtin{Name: callee.Name}
	case *ast.MemberExpr:
		v, err := ev.evalMember(callee)
		if err != nil {
			return nil, err
		}
		if !IsCallable(v) {
			return nil, &RuntimeError{
				Code:    diagnostics.EType,
				Message: fmt.Sprintf("'%s' is %s, not a function", e.CalleeName(), TypeName(v)),
				Span:    &span,
			}
		}
		fn = v
	default:
		return nil, &RuntimeError{Code: diagnostics.EType, Message: "expression is not callable", Span: &span}
	}

	args := make([]Value, 0, len(e.Args)+1)
	if piped != nil {
		args = append(args, piped)
	}
	_, historyFn := historyIntrinsics[builtinName(fn)]
	for i, a := range e.Args {
		// History helpers take the column by name: ref(close, 1).
		if historyFn && i == 0 && piped == nil {
			if id, ok := a.(*ast.Ident); ok && ev.tracked(id.Name, env) {
				ev.opts.History.Stage(id.Name, ev.current(id.Name, env))
				args = append(args, String{Value: id.Name})
				continue
			}
		}
		v, err := ev.Eval(a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	return ev.Call(fn, args, span)
}

func builtinName(v Value) string {
	if b, ok := v.(Builtin); ok {
		return b.Name
	}
	return ""
}

// Call invokes a callable value with already evaluated arguments.
func (ev *Evaluator) Call(fn Value, args []Value, span ast.Span) (Value, error) {
	switch f := fn.(type) {
	case Lambda:
		return ev.callLambda(f, args, span)
	case Function:
		return ev.callFunction(f, args, span)
	case Builtin:
		v, err := ev.callBuiltin(f.Name, args, span)
		if err != nil {
			return nil, atSpan(toRuntimeError(err), span)
		}
		return v, nil
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("%s is not callable", TypeName(fn)),
		Span:    &span,
	}
}

func (ev *Evaluator) callLambda(l Lambda, args []Value, span ast.Span) (Value, error) {
	if len(args) != len(l.Params) {
		return nil, &RuntimeError{
			Code:    diagnostics.EArity,
			Message: fmt.Sprintf("lambda takes %d argument(s), got %d", len(l.Params), len(args)),
			Span:    &span,
		}
	}
	if err := ev.enter(span); err != nil {
		return nil, err
	}
	defer ev.leave()

	frame := newFrame(l.Captured)
	for i, p := range l.Params {
		frame.Set(p, args[i])
	}
	return ev.Eval(l.Body, frame)
}

func (ev *Evaluator) callFunction(fn Function, args []Value, span ast.Span) (Value, error) {
	decl := fn.Decl
	name := decl.Name
	if fn.Package != "" {
		name = fn.Package + "." + name
	}
	if len(args) < decl.Required() || len(args) > len(decl.Params) {
		want := fmt.Sprintf("%d", len(decl.Params))
		if decl.Required() != len(decl.Params) {
			want = fmt.Sprintf("%d to %d", decl.Required(), len(decl.Params))
		}
		return nil, &RuntimeError{
			Code:    diagnostics.EArity,
			Message: fmt.Sprintf("%s() takes %s argument(s), got %d", name, want, len(args)),
			Span:    &span,
		}
	}
	if err := ev.enter(span); err != nil {
		return nil, err
	}
	defer ev.leave()

	saved := ev.packages
	if fn.Imports != nil {
		ev.packages = fn.Imports
	}
	defer func() { ev.packages = saved }()

	ev.emit(TraceFnCallStart, &span, map[string]any{"fn": name})
	defer ev.emit(TraceFnCallEnd, &span, map[string]any{"fn": name})

	frame := newFrame(fn.Closure)
	for i, p := range decl.Params {
		var v Value
		if i < len(args) {
			v = args[i]
		} else {
			var err error
			v, err = ev.Eval(p.Default, frame)
			if err != nil {
				return nil, err
			}
		}
		coerced, err := Coerce(v, p.Type)
		if err != nil {
			re := toRuntimeError(err)
			re.Message = fmt.Sprintf("%s() parameter '%s': %s", name, p.Name, re.Message)
			return nil, atSpan(re, span)
		}
		frame.Set(p.Name, coerced)
	}

	flow, err := ev.ExecBlock(decl.Body, frame)
	if err != nil {
		return nil, err
	}
	var result Value = Null{}
	if flow.Kind == FlowReturn {
		result = flow.Value
	}
	result, err = Coerce(result, decl.ReturnType)
	if err != nil {
		re := toRuntimeError(err)
		re.Message = fmt.Sprintf("%s() result: %s", name, re.Message)
		return nil, atSpan(re, span)
	}
	return result, nil
}

func (ev *Evaluator) evalIndex(e *ast.IndexExpr, env *Env) (Value, error) {
	span := e.Span

	if id, ok := e.Base.(*ast.Ident); ok && ev.tracked(id.Name, env) {
		n, err := ev.evalInt(e.Index, env, "index")
		if err != nil {
			return nil, err
		}
		switch {
		case n > 0:
			return nil, &RuntimeError{
				Code:    diagnostics.EIndexContext,
				Message: fmt.Sprintf("cannot access future value %s[%d]", id.Name, n),
				Span:    &span,
				Hint:    "history offsets must be 0 or negative",
			}
		case n == 0:
			return ev.current(id.Name, env), nil
		}
		return ev.opts.History.GetOffset(id.Name, n), nil
	}

	base, err := ev.Eval(e.Base, env)
	if err != nil {
		return nil, err
	}
	n, err := ev.evalInt(e.Index, env, "index")
	if err != nil {
		return nil, err
	}

	switch b := base.(type) {
	case nil, Null:
		return Null{}, nil
	case Array, ArraySlice:
		arr, _ := AsArrayLike(b)
		if n < 0 {
			n += arr.Len()
		}
		return arr.At(n), nil
	case String:
		runes := []rune(b.Value)
		if n < 0 {
			n += len(runes)
		}
		if n < 0 || n >= len(runes) {
			return Null{}, nil
		}
		return String{Value: string(runes[n])}, nil
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("cannot index %s", TypeName(base)),
		Span:    &span,
	}
}

func (ev *Evaluator) evalSlice(e *ast.SliceExpr, env *Env) (Value, error) {
	span := e.Span

	if id, ok := e.Base.(*ast.Ident); ok && ev.tracked(id.Name, env) {
		h := ev.opts.History
		start, end := h.Earliest(), 0
		if e.Start != nil {
			n, err := ev.evalInt(e.Start, env, "slice start")
			if err != nil {
				return nil, err
			}
			start = n
		}
		if e.End != nil {
			n, err := ev.evalInt(e.End, env, "slice end")
			if err != nil {
				return nil, err
			}
			end = n
		}
		if start > 0 || end > 0 {
			return nil, &RuntimeError{
				Code:    diagnostics.EIndexContext,
				Message: fmt.Sprintf("cannot access future values of %s", id.Name),
				Span:    &span,
				Hint:    "history offsets must be 0 or negative",
			}
		}
		if start > end {
			return Array{Items: []Value{}}, nil
		}
		if end == 0 {
			h.Stage(id.Name, ev.current(id.Name, env))
		}
		return h.GetSlice(id.Name, start, end), nil
	}

	base, err := ev.Eval(e.Base, env)
	if err != nil {
		return nil, err
	}

	var length int
	switch b := base.(type) {
	case nil, Null:
		return Null{}, nil
	case Array, ArraySlice:
		arr, _ := AsArrayLike(b)
		length = arr.Len()
	case String:
		length = len([]rune(b.Value))
	default:
		return nil, &RuntimeError{
			Code:    diagnostics.EType,
			Message: fmt.Sprintf("cannot slice %s", TypeName(base)),
			Span:    &span,
		}
	}

	start, end := 0, length
	if e.Start != nil {
		if start, err = ev.evalInt(e.Start, env, "slice start"); err != nil {
			return nil, err
		}
	}
	if e.End != nil {
		if end, err = ev.evalInt(e.End, env, "slice end"); err != nil {
			return nil, err
		}
	}
	start, end = clampRange(start, end, length)

	switch b := base.(type) {
	case String:
		return String{Value: string([]rune(b.Value)[start:end])}, nil
	case Array:
		return ArraySlice{Backing: b, Start: start, Length: end - start}, nil
	case ArraySlice:
		return ArraySlice{Backing: b.Backing, Start: b.Start + start, Length: end - start}, nil
	}
	return Null{}, nil
}

// clampRange resolves a half-open range with negative indices counted
// from the end.
func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	start = max(0, min(start, length))
	end = max(0, min(end, length))
	if end < start {
		end = start
	}
	return start, end
}

func (ev *Evaluator) evalInt(expr ast.Expr, env *Env, what string) (int, error) {
	v, err := ev.Eval(expr, env)
	if err != nil {
		return 0, err
	}
	n, ok := v.(Number)
	if !ok {
		if d, isDec := v.(Decimal); isDec && d.Value.IsInteger() {
			return int(d.Value.IntPart()), nil
		}
		span := expr.NodeSpan()
		return 0, &RuntimeError{
			Code:    diagnostics.EType,
			Message: fmt.Sprintf("%s must be a number, got %s", what, TypeName(v)),
			Span:    &span,
		}
	}
	if n.Value != math.Trunc(n.Value) {
		span := expr.NodeSpan()
		return 0, &RuntimeError{
			Code:    diagnostics.EType,
			Message: fmt.Sprintf("%s must be an integer, got %s", what, FormatNumber(n.Value)),
			Span:    &span,
		}
	}
	return int(n.Value), nil
}

// tracked reports whether name, seen from env, refers to a history column.
func (ev *Evaluator) tracked(name string, env *Env) bool {
	return ev.opts.History != nil && ev.opts.History.Tracked(name) && env.historyName(name)
}

// current returns the column's value in the current row, or Null before
// it has been assigned.
func (ev *Evaluator) current(name string, env *Env) Value {
	if v, ok := env.Get(name); ok {
		return v
	}
	return Null{}
}

func toRuntimeError(err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return TypeErrorf("%s", err.Error())
}
