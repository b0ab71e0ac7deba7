package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// intrinsic is a builtin that needs the evaluator: it calls back into
// user code or reads the row's history.
type intrinsic func(ev *Evaluator, args []Value, span ast.Span) (Value, error)

var intrinsics map[string]intrinsic

// historyIntrinsics take a column name as their first argument. A bare
// identifier there is passed by name rather than evaluated.
var historyIntrinsics = map[string]struct{}{
	"ref":    {},
	"offset": {},
	"past":   {},
	"window": {},
}

func init() {
	intrinsics = map[string]intrinsic{
		"map":    builtinMap,
		"filter": builtinFilter,
		"reduce": builtinReduce,
		"ref":    builtinRef,
		"offset": builtinRef,
		"past":   builtinPast,
		"window": builtinWindow,
		"print":  builtinPrint,
	}
}

// IntrinsicNames returns the names of the builtins implemented by the
// evaluator itself, sorted.
func IntrinsicNames() []string {
	names := make([]string, 0, len(intrinsics))
	for name := range intrinsics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ev *Evaluator) isBuiltin(name string) bool {
	if _, ok := intrinsics[name]; ok {
		return true
	}
	_, ok := ev.opts.Stdlib[name]
	return ok
}

func (ev *Evaluator) builtinNames() []string {
	names := IntrinsicNames()
	for name := range ev.opts.Stdlib {
		names = append(names, name)
	}
	return names
}

func (ev *Evaluator) callBuiltin(name string, args []Value, span ast.Span) (Value, error) {
	if fn, ok := intrinsics[name]; ok {
		return fn(ev, args, span)
	}
	if fn, ok := ev.opts.Stdlib[name]; ok {
		return fn.Execute(args)
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EUndefined,
		Message: fmt.Sprintf("undefined function '%s'", name),
		Span:    &span,
	}
}

func arity(name string, args []Value, lo, hi int) error {
	if len(args) >= lo && len(args) <= hi {
		return nil
	}
	want := fmt.Sprintf("%d", lo)
	if hi != lo {
		want = fmt.Sprintf("%d or %d", lo, hi)
	}
	return Errorf(diagnostics.EArity, "%s() takes %s argument(s), got %d", name, want, len(args))
}

func arrayArg(name string, v Value) (ArrayLike, error) {
	if IsNull(v) {
		return Array{}, nil
	}
	arr, ok := AsArrayLike(v)
	if !ok {
		return nil, TypeErrorf("%s() requires an array, got %s", name, TypeName(v))
	}
	return arr, nil
}

func callableArg(name string, v Value) error {
	if !IsCallable(v) {
		return TypeErrorf("%s() requires a function, got %s", name, TypeName(v))
	}
	return nil
}

func builtinMap(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	if err := arity("map", args, 2, 2); err != nil {
		return nil, err
	}
	arr, err := arrayArg("map", args[0])
	if err != nil {
		return nil, err
	}
	if err := callableArg("map", args[1]); err != nil {
		return nil, err
	}

	results := make([]Value, arr.Len())
	for i := range results {
		if err := ev.checkIterationBudget(span); err != nil {
			return nil, err
		}
		v, err := ev.Call(args[1], []Value{arr.At(i)}, span)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return Array{Items: results}, nil
}

func builtinFilter(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	if err := arity("filter", args, 2, 2); err != nil {
		return nil, err
	}
	arr, err := arrayArg("filter", args[0])
	if err != nil {
		return nil, err
	}
	if err := callableArg("filter", args[1]); err != nil {
		return nil, err
	}

	results := []Value{}
	for i := 0; i < arr.Len(); i++ {
		if err := ev.checkIterationBudget(span); err != nil {
			return nil, err
		}
		item := arr.At(i)
		v, err := ev.Call(args[1], []Value{item}, span)
		if err != nil {
			return nil, err
		}
		keep, ok := v.(Bool)
		if !ok {
			return nil, TypeErrorf("filter() predicate must return bool, got %s", TypeName(v))
		}
		if keep.Value {
			results = append(results, item)
		}
	}
	return Array{Items: results}, nil
}

// builtinReduce folds left: reduce(arr, (acc, x) -> ..., seed). Without a
// seed the first element is the initial accumulator.
func builtinReduce(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	if err := arity("reduce", args, 2, 3); err != nil {
		return nil, err
	}
	arr, err := arrayArg("reduce", args[0])
	if err != nil {
		return nil, err
	}
	if err := callableArg("reduce", args[1]); err != nil {
		return nil, err
	}

	start := 0
	var acc Value
	if len(args) == 3 {
		acc = args[2]
	} else {
		if arr.Len() == 0 {
			return nil, TypeErrorf("reduce() of empty array with no initial value")
		}
		acc = arr.At(0)
		start = 1
	}

	for i := start; i < arr.Len(); i++ {
		if err := ev.checkIterationBudget(span); err != nil {
			return nil, err
		}
		acc, err = ev.Call(args[1], []Value{acc, arr.At(i)}, span)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (ev *Evaluator) historyArgs(name string, args []Value) (string, int, error) {
	if err := arity(name, args, 2, 2); err != nil {
		return "", 0, err
	}
	col, ok := args[0].(String)
	if !ok {
		return "", 0, TypeErrorf("%s() requires a column name, got %s", name, TypeName(args[0]))
	}
	n, ok := args[1].(Number)
	if !ok || n.Value != float64(int(n.Value)) {
		return "", 0, TypeErrorf("%s() requires an integer count, got %s", name, FormatValue(args[1]))
	}
	if ev.opts.History == nil || !ev.opts.History.Tracked(col.Value) {
		return "", 0, Errorf(diagnostics.EUndefined, "%s() column '%s' has no history", name, col.Value)
	}
	return col.Value, int(n.Value), nil
}

// builtinRef returns the value n rows back: ref(close, 1) is close[-1].
func builtinRef(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	col, n, err := ev.historyArgs("ref", args)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, Errorf(diagnostics.EIndexContext, "ref() cannot look %d rows ahead", -n)
	}
	if n == 0 {
		return ev.opts.History.GetOffset(col, 0), nil
	}
	return ev.opts.History.GetOffset(col, -n), nil
}

// builtinPast returns the n values before the current row, oldest first.
func builtinPast(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	col, n, err := ev.historyArgs("past", args)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return Array{Items: []Value{}}, nil
	}
	return ev.opts.History.GetSlice(col, -n, -1), nil
}

// builtinWindow returns the last n values including the current row,
// oldest first.
func builtinWindow(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	col, n, err := ev.historyArgs("window", args)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return Array{Items: []Value{}}, nil
	}
	return ev.opts.History.GetSlice(col, -(n - 1), 0), nil
}

func builtinPrint(ev *Evaluator, args []Value, span ast.Span) (Value, error) {
	if ev.opts.Debug == nil {
		return Null{}, nil
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = FormatValue(a)
	}
	fmt.Fprintln(ev.opts.Debug, strings.Join(parts, " "))
	return Null{}, nil
}
