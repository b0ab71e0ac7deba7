package stdlib

import (
	"strings"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

func stringFn(name string, f func(string) string) func([]evaluator.Value) (evaluator.Value, error) {
	return func(args []evaluator.Value) (evaluator.Value, error) {
		if err := checkArity(name, args, 1, 1); err != nil {
			return nil, err
		}
		if evaluator.IsNull(args[0]) {
			return evaluator.NewNull(), nil
		}
		s, err := stringArg(name, args[0])
		if err != nil {
			return nil, err
		}
		return evaluator.NewString(f(s)), nil
	}
}

var (
	stdlibUpper = stringFn("upper", strings.ToUpper)
	stdlibLower = stringFn("lower", strings.ToLower)
	stdlibTrim  = stringFn("trim", strings.TrimSpace)
)

// split(s, sep) → array of strings
func stdlibSplit(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("split", args, 2, 2); err != nil {
		return nil, err
	}
	s, err := stringArg("split", args[0])
	if err != nil {
		return nil, err
	}
	sep, err := stringArg("split", args[1])
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	items := make([]evaluator.Value, len(parts))
	for i, p := range parts {
		items[i] = evaluator.NewString(p)
	}
	return evaluator.NewArray(items), nil
}

// replace(s, old, new) → string with every occurrence replaced
func stdlibReplace(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("replace", args, 3, 3); err != nil {
		return nil, err
	}
	strs := make([]string, 3)
	for i, a := range args {
		s, err := stringArg("replace", a)
		if err != nil {
			return nil, err
		}
		strs[i] = s
	}
	return evaluator.NewString(strings.ReplaceAll(strs[0], strs[1], strs[2])), nil
}

func stringTest(name string, f func(s, x string) bool) func([]evaluator.Value) (evaluator.Value, error) {
	return func(args []evaluator.Value) (evaluator.Value, error) {
		if err := checkArity(name, args, 2, 2); err != nil {
			return nil, err
		}
		s, err := stringArg(name, args[0])
		if err != nil {
			return nil, err
		}
		x, err := stringArg(name, args[1])
		if err != nil {
			return nil, err
		}
		return evaluator.NewBool(f(s, x)), nil
	}
}

var (
	stdlibStartsWith = stringTest("starts_with", strings.HasPrefix)
	stdlibEndsWith   = stringTest("ends_with", strings.HasSuffix)
)
