package stdlib

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// unaryMath applies f element-wise. Decimals use fd when given, otherwise
// they go through float64 and come back as numbers.
func unaryMath(name string, v evaluator.Value, f func(float64) float64, fd func(decimal.Decimal) decimal.Decimal) (evaluator.Value, error) {
	switch val := v.(type) {
	case evaluator.Number:
		return evaluator.NewNumber(f(val.Value)), nil
	case evaluator.Decimal:
		if fd != nil {
			return evaluator.NewDecimal(fd(val.Value)), nil
		}
		return evaluator.NewNumber(f(val.Value.InexactFloat64())), nil
	case evaluator.Null:
		return val, nil
	case evaluator.Array, evaluator.ArraySlice:
		items, _ := evaluator.Elements(val)
		out := make([]evaluator.Value, len(items))
		for i, item := range items {
			r, err := unaryMath(name, item, f, fd)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return evaluator.NewArray(out), nil
	}
	return nil, evaluator.TypeErrorf("%s() requires a number, got %s", name, evaluator.TypeName(v))
}

func unary(name string, f func(float64) float64, fd func(decimal.Decimal) decimal.Decimal) func([]evaluator.Value) (evaluator.Value, error) {
	return func(args []evaluator.Value) (evaluator.Value, error) {
		if err := checkArity(name, args, 1, 1); err != nil {
			return nil, err
		}
		return unaryMath(name, args[0], f, fd)
	}
}

var (
	stdlibAbs   = unary("abs", math.Abs, decimal.Decimal.Abs)
	stdlibSqrt  = unary("sqrt", math.Sqrt, nil)
	stdlibFloor = unary("floor", math.Floor, decimal.Decimal.Floor)
	stdlibCeil  = unary("ceil", math.Ceil, decimal.Decimal.Ceil)
	stdlibLog   = unary("log", math.Log, nil)
	stdlibExp   = unary("exp", math.Exp, nil)
)

// round(x, places?) → x rounded half away from zero. Works element-wise.
func stdlibRound(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("round", args, 1, 2); err != nil {
		return nil, err
	}
	places := 0
	if len(args) == 2 {
		p, err := intArg("round", args[1])
		if err != nil {
			return nil, err
		}
		places = p
	}
	scale := math.Pow(10, float64(places))
	return unaryMath("round", args[0],
		func(f float64) float64 { return math.Round(f*scale) / scale },
		func(d decimal.Decimal) decimal.Decimal { return d.Round(int32(places)) })
}

// pow(a, b) → a ^ b
func stdlibPow(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("pow", args, 2, 2); err != nil {
		return nil, err
	}
	return evaluator.Arithmetic(ast.OpPow, args[0], args[1])
}

// nonNull drops null elements; aggregates ignore missing values.
func nonNull(items []evaluator.Value) []evaluator.Value {
	out := make([]evaluator.Value, 0, len(items))
	for _, item := range items {
		if !evaluator.IsNull(item) {
			out = append(out, item)
		}
	}
	return out
}

func total(name string, items []evaluator.Value) (evaluator.Value, error) {
	var acc evaluator.Value = evaluator.NewNumber(0)
	for _, item := range items {
		switch item.(type) {
		case evaluator.Number, evaluator.Decimal:
		default:
			return nil, evaluator.TypeErrorf("%s() requires numbers, got %s", name, evaluator.TypeName(item))
		}
		var err error
		if acc, err = evaluator.Arithmetic(ast.OpAdd, acc, item); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// sum(arr) or sum(a, b, ...) → number. Nulls are skipped; sum([]) is 0.
func stdlibSum(args []evaluator.Value) (evaluator.Value, error) {
	items, err := variadicList("sum", args)
	if err != nil {
		return nil, err
	}
	return total("sum", nonNull(items))
}

// avg(arr) → mean of the non-null elements, or null when there are none.
func stdlibAvg(args []evaluator.Value) (evaluator.Value, error) {
	items, err := variadicList("avg", args)
	if err != nil {
		return nil, err
	}
	items = nonNull(items)
	if len(items) == 0 {
		return evaluator.NewNull(), nil
	}
	s, err := total("avg", items)
	if err != nil {
		return nil, err
	}
	return evaluator.Arithmetic(ast.OpDiv, s, evaluator.NewNumber(float64(len(items))))
}

func extremum(name string, args []evaluator.Value, op ast.BinaryOp) (evaluator.Value, error) {
	items, err := variadicList(name, args)
	if err != nil {
		return nil, err
	}
	items = nonNull(items)
	if len(items) == 0 {
		return evaluator.NewNull(), nil
	}
	best := items[0]
	for _, item := range items[1:] {
		better, err := evaluator.Compare(op, item, best)
		if err != nil {
			return nil, err
		}
		if b, ok := better.(evaluator.Bool); ok && b.Value {
			best = item
		}
	}
	return best, nil
}

// max(arr) or max(a, b, ...) → largest non-null element.
func stdlibMax(args []evaluator.Value) (evaluator.Value, error) {
	return extremum("max", args, ast.OpGt)
}

// min(arr) or min(a, b, ...) → smallest non-null element.
func stdlibMin(args []evaluator.Value) (evaluator.Value, error) {
	return extremum("min", args, ast.OpLt)
}

// std(arr) → population standard deviation of the non-null elements.
func stdlibStd(args []evaluator.Value) (evaluator.Value, error) {
	items, err := variadicList("std", args)
	if err != nil {
		return nil, err
	}
	values, err := floats("std", nonNull(items))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return evaluator.NewNull(), nil
	}
	return evaluator.NewNumber(stddev(values, mean(values))), nil
}

func floats(name string, items []evaluator.Value) ([]float64, error) {
	out := make([]float64, len(items))
	for i, item := range items {
		f, err := floatArg(name, item)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func mean(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s / float64(len(values))
}

func stddev(values []float64, m float64) float64 {
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)))
}
