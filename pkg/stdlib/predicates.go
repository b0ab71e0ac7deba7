package stdlib

import (
	"strconv"
	"strings"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// is_null(x) → bool
func stdlibIsNull(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("is_null", args, 1, 1); err != nil {
		return nil, err
	}
	return evaluator.NewBool(evaluator.IsNull(args[0])), nil
}

// coalesce(a, b, ...) → first argument that is not null.
// Strict null-check, NOT truthiness: coalesce(false, 1) is false.
func stdlibCoalesce(args []evaluator.Value) (evaluator.Value, error) {
	for _, a := range args {
		if !evaluator.IsNull(a) {
			return a, nil
		}
	}
	return evaluator.NewNull(), nil
}

// typeof(x) → string
func stdlibTypeof(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("typeof", args, 1, 1); err != nil {
		return nil, err
	}
	return evaluator.NewString(evaluator.TypeName(args[0])), nil
}

// any(arr) → true when some element is truthy.
func stdlibAny(args []evaluator.Value) (evaluator.Value, error) {
	items, err := variadicList("any", args)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if evaluator.Truthiness(item) {
			return evaluator.NewBool(true), nil
		}
	}
	return evaluator.NewBool(false), nil
}

// all(arr) → true when every element is truthy. all([]) is true.
func stdlibAll(args []evaluator.Value) (evaluator.Value, error) {
	items, err := variadicList("all", args)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if !evaluator.Truthiness(item) {
			return evaluator.NewBool(false), nil
		}
	}
	return evaluator.NewBool(true), nil
}

// number(x) → number. Strings are parsed; unparsable strings are null.
func stdlibNumber(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("number", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case evaluator.Number:
		return v, nil
	case evaluator.Decimal:
		return evaluator.NewNumber(v.Value.InexactFloat64()), nil
	case evaluator.Bool:
		if v.Value {
			return evaluator.NewNumber(1), nil
		}
		return evaluator.NewNumber(0), nil
	case evaluator.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil {
			return evaluator.NewNull(), nil
		}
		return evaluator.NewNumber(f), nil
	case evaluator.Null:
		return v, nil
	}
	return nil, evaluator.TypeErrorf("number() cannot convert %s", evaluator.TypeName(args[0]))
}

// decimal(x) → decimal. Numbers convert through their shortest decimal
// representation, so decimal(0.1) is exactly 0.1.
func stdlibDecimal(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("decimal", args, 1, 1); err != nil {
		return nil, err
	}
	return evaluator.Coerce(args[0], ast.TypeDecimal)
}

// str(x) → string
func stdlibStr(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("str", args, 1, 1); err != nil {
		return nil, err
	}
	if s, ok := args[0].(evaluator.String); ok {
		return s, nil
	}
	return evaluator.NewString(evaluator.FormatValue(args[0])), nil
}

// bool(x) → truthiness of x
func stdlibBool(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("bool", args, 1, 1); err != nil {
		return nil, err
	}
	return evaluator.NewBool(evaluator.Truthiness(args[0])), nil
}
