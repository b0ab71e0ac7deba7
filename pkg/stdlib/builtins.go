package stdlib

import (
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// RegisterDefaults adds all stdlib functions.
func RegisterDefaults(r *Registry) {
	// Predicates & conversion
	r.Register(Fn{Name: "is_null", Execute: stdlibIsNull})
	r.Register(Fn{Name: "coalesce", Execute: stdlibCoalesce})
	r.Register(Fn{Name: "typeof", Execute: stdlibTypeof})
	r.Register(Fn{Name: "any", Execute: stdlibAny})
	r.Register(Fn{Name: "all", Execute: stdlibAll})
	r.Register(Fn{Name: "number", Execute: stdlibNumber})
	r.Register(Fn{Name: "decimal", Execute: stdlibDecimal})
	r.Register(Fn{Name: "str", Execute: stdlibStr})
	r.Register(Fn{Name: "bool", Execute: stdlibBool})

	// List ops
	r.Register(Fn{Name: "len", Execute: stdlibLen})
	r.Register(Fn{Name: "append", Execute: stdlibAppend})
	r.Register(Fn{Name: "concat", Execute: stdlibConcat})
	r.Register(Fn{Name: "sort", Execute: stdlibSort})
	r.Register(Fn{Name: "reverse", Execute: stdlibReverse})
	r.Register(Fn{Name: "unique", Execute: stdlibUnique})
	r.Register(Fn{Name: "flat", Execute: stdlibFlat})
	r.Register(Fn{Name: "range", Execute: stdlibRange})
	r.Register(Fn{Name: "first", Execute: stdlibFirst})
	r.Register(Fn{Name: "last", Execute: stdlibLast})
	r.Register(Fn{Name: "index_of", Execute: stdlibIndexOf})
	r.Register(Fn{Name: "contains", Execute: stdlibContains})
	r.Register(Fn{Name: "join", Execute: stdlibJoin})

	// String ops
	r.Register(Fn{Name: "split", Execute: stdlibSplit})
	r.Register(Fn{Name: "upper", Execute: stdlibUpper})
	r.Register(Fn{Name: "lower", Execute: stdlibLower})
	r.Register(Fn{Name: "trim", Execute: stdlibTrim})
	r.Register(Fn{Name: "replace", Execute: stdlibReplace})
	r.Register(Fn{Name: "starts_with", Execute: stdlibStartsWith})
	r.Register(Fn{Name: "ends_with", Execute: stdlibEndsWith})

	// Parse
	r.Register(Fn{Name: "parse_json", Execute: stdlibParseJSON})
	r.Register(Fn{Name: "to_json", Execute: stdlibToJSON})

	// Math
	r.Register(Fn{Name: "abs", Execute: stdlibAbs})
	r.Register(Fn{Name: "sqrt", Execute: stdlibSqrt})
	r.Register(Fn{Name: "floor", Execute: stdlibFloor})
	r.Register(Fn{Name: "ceil", Execute: stdlibCeil})
	r.Register(Fn{Name: "round", Execute: stdlibRound})
	r.Register(Fn{Name: "log", Execute: stdlibLog})
	r.Register(Fn{Name: "exp", Execute: stdlibExp})
	r.Register(Fn{Name: "pow", Execute: stdlibPow})
	r.Register(Fn{Name: "sum", Execute: stdlibSum})
	r.Register(Fn{Name: "avg", Execute: stdlibAvg})
	r.Register(Fn{Name: "max", Execute: stdlibMax})
	r.Register(Fn{Name: "min", Execute: stdlibMin})
	r.Register(Fn{Name: "std", Execute: stdlibStd})

	// Technical indicators
	r.Register(Fn{Name: "MA", Execute: stdlibSMA})
	r.Register(Fn{Name: "SMA", Execute: stdlibSMA})
	r.Register(Fn{Name: "EMA", Execute: stdlibEMA})
	r.Register(Fn{Name: "RSI", Execute: stdlibRSI})
	r.Register(Fn{Name: "MACD", Execute: stdlibMACD})
	r.Register(Fn{Name: "BOLL", Execute: stdlibBOLL})
	r.Register(Fn{Name: "ATR", Execute: stdlibATR})
	r.Register(Fn{Name: "KDJ", Execute: stdlibKDJ})
}

func checkArity(name string, args []evaluator.Value, lo, hi int) error {
	if len(args) >= lo && len(args) <= hi {
		return nil
	}
	switch {
	case lo == hi:
		return evaluator.Errorf(diagnostics.EArity, "%s() takes %d argument(s), got %d", name, lo, len(args))
	case hi < 0:
		return evaluator.Errorf(diagnostics.EArity, "%s() takes at least %d argument(s), got %d", name, lo, len(args))
	}
	return evaluator.Errorf(diagnostics.EArity, "%s() takes %d to %d arguments, got %d", name, lo, hi, len(args))
}

// listArg returns the elements of an array argument. Null reads as an
// empty array.
func listArg(name string, v evaluator.Value) ([]evaluator.Value, error) {
	if evaluator.IsNull(v) {
		return nil, nil
	}
	items, ok := evaluator.Elements(v)
	if !ok {
		return nil, evaluator.TypeErrorf("%s() requires an array, got %s", name, evaluator.TypeName(v))
	}
	return items, nil
}

// variadicList accepts either one array argument or the values themselves:
// sum([1, 2]) and sum(1, 2) are the same call.
func variadicList(name string, args []evaluator.Value) ([]evaluator.Value, error) {
	if len(args) == 1 {
		if _, ok := evaluator.AsArrayLike(args[0]); ok || evaluator.IsNull(args[0]) {
			return listArg(name, args[0])
		}
	}
	return args, nil
}

func stringArg(name string, v evaluator.Value) (string, error) {
	s, ok := v.(evaluator.String)
	if !ok {
		return "", evaluator.TypeErrorf("%s() requires a string, got %s", name, evaluator.TypeName(v))
	}
	return s.Value, nil
}

// floatArg reads a number or decimal as float64. Null reads as 0, the
// same as in arithmetic.
func floatArg(name string, v evaluator.Value) (float64, error) {
	switch n := v.(type) {
	case evaluator.Number:
		return n.Value, nil
	case evaluator.Decimal:
		return n.Value.InexactFloat64(), nil
	case nil, evaluator.Null:
		return 0, nil
	}
	return 0, evaluator.TypeErrorf("%s() requires a number, got %s", name, evaluator.TypeName(v))
}

func intArg(name string, v evaluator.Value) (int, error) {
	n, ok := v.(evaluator.Number)
	if !ok || n.Value != float64(int(n.Value)) {
		return 0, evaluator.TypeErrorf("%s() requires an integer, got %s", name, evaluator.FormatValue(v))
	}
	return int(n.Value), nil
}
