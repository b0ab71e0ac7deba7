package stdlib

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// len(arr | str) → number. len(null) is 0.
func stdlibLen(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case evaluator.String:
		return evaluator.NewNumber(float64(utf8.RuneCountInString(v.Value))), nil
	case evaluator.Null:
		return evaluator.NewNumber(0), nil
	}
	arr, ok := evaluator.AsArrayLike(args[0])
	if !ok {
		return nil, evaluator.TypeErrorf("len() requires an array or string, got %s", evaluator.TypeName(args[0]))
	}
	return evaluator.NewNumber(float64(arr.Len())), nil
}

// append(arr, value) → new array
func stdlibAppend(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("append", args, 2, 2); err != nil {
		return nil, err
	}
	items, err := listArg("append", args[0])
	if err != nil {
		return nil, err
	}
	newItems := make([]evaluator.Value, len(items)+1)
	copy(newItems, items)
	newItems[len(items)] = args[1]
	return evaluator.NewArray(newItems), nil
}

// concat(a, b, ...) → new array
func stdlibConcat(args []evaluator.Value) (evaluator.Value, error) {
	newItems := []evaluator.Value{}
	for _, a := range args {
		items, err := listArg("concat", a)
		if err != nil {
			return nil, err
		}
		newItems = append(newItems, items...)
	}
	return evaluator.NewArray(newItems), nil
}

// sort(arr, desc?) → new array. Elements must be mutually comparable;
// nulls sort first.
func stdlibSort(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("sort", args, 1, 2); err != nil {
		return nil, err
	}
	items, err := listArg("sort", args[0])
	if err != nil {
		return nil, err
	}
	desc := len(args) == 2 && evaluator.Truthiness(args[1])

	sorted := make([]evaluator.Value, len(items))
	copy(sorted, items)
	var sortErr error
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if desc {
			a, b = b, a
		}
		if evaluator.IsNull(a) || evaluator.IsNull(b) {
			return evaluator.IsNull(a) && !evaluator.IsNull(b)
		}
		less, err := evaluator.Compare(ast.OpLt, a, b)
		if err != nil {
			if sortErr == nil {
				sortErr = err
			}
			return false
		}
		lb, _ := less.(evaluator.Bool)
		return lb.Value
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return evaluator.NewArray(sorted), nil
}

// reverse(arr | str) → reversed copy
func stdlibReverse(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("reverse", args, 1, 1); err != nil {
		return nil, err
	}
	if s, ok := args[0].(evaluator.String); ok {
		runes := []rune(s.Value)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return evaluator.NewString(string(runes)), nil
	}
	items, err := listArg("reverse", args[0])
	if err != nil {
		return nil, err
	}
	out := make([]evaluator.Value, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return evaluator.NewArray(out), nil
}

// unique(arr) → array with duplicates removed, first occurrence kept.
func stdlibUnique(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("unique", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := listArg("unique", args[0])
	if err != nil {
		return nil, err
	}
	out := []evaluator.Value{}
	for _, item := range items {
		dup := false
		for _, seen := range out {
			if evaluator.Equal(item, seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return evaluator.NewArray(out), nil
}

// flat(arr) → array flattened one level
func stdlibFlat(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("flat", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := listArg("flat", args[0])
	if err != nil {
		return nil, err
	}
	out := []evaluator.Value{}
	for _, item := range items {
		if inner, ok := evaluator.Elements(item); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, item)
	}
	return evaluator.NewArray(out), nil
}

// range(end) or range(start, end, step?) → half-open integer range.
func stdlibRange(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("range", args, 1, 3); err != nil {
		return nil, err
	}
	bounds := make([]int, len(args))
	for i, a := range args {
		n, err := intArg("range", a)
		if err != nil {
			return nil, err
		}
		bounds[i] = n
	}
	start, end, step := 0, bounds[0], 1
	if len(bounds) >= 2 {
		start, end = bounds[0], bounds[1]
	}
	if len(bounds) == 3 {
		step = bounds[2]
	}
	if step == 0 {
		return nil, evaluator.TypeErrorf("range() step must not be zero")
	}

	out := []evaluator.Value{}
	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		out = append(out, evaluator.NewNumber(float64(i)))
	}
	return evaluator.NewArray(out), nil
}

// first(arr) → first element or null
func stdlibFirst(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("first", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := listArg("first", args[0])
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return evaluator.NewNull(), nil
	}
	return items[0], nil
}

// last(arr) → last element or null
func stdlibLast(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("last", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := listArg("last", args[0])
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return evaluator.NewNull(), nil
	}
	return items[len(items)-1], nil
}

// index_of(arr, value) → index of the first equal element, or -1.
func stdlibIndexOf(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("index_of", args, 2, 2); err != nil {
		return nil, err
	}
	items, err := listArg("index_of", args[0])
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		if evaluator.Equal(item, args[1]) {
			return evaluator.NewNumber(float64(i)), nil
		}
	}
	return evaluator.NewNumber(-1), nil
}

// contains(arr | str, value) → bool. On strings it is a substring test.
func stdlibContains(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("contains", args, 2, 2); err != nil {
		return nil, err
	}
	if s, ok := args[0].(evaluator.String); ok {
		sub, err := stringArg("contains", args[1])
		if err != nil {
			return nil, err
		}
		return evaluator.NewBool(strings.Contains(s.Value, sub)), nil
	}
	items, err := listArg("contains", args[0])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if evaluator.Equal(item, args[1]) {
			return evaluator.NewBool(true), nil
		}
	}
	return evaluator.NewBool(false), nil
}

// join(arr, sep?) → string
func stdlibJoin(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("join", args, 1, 2); err != nil {
		return nil, err
	}
	items, err := listArg("join", args[0])
	if err != nil {
		return nil, err
	}
	sep := ""
	if len(args) == 2 {
		if sep, err = stringArg("join", args[1]); err != nil {
			return nil, err
		}
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = evaluator.FormatValue(item)
	}
	return evaluator.NewString(strings.Join(parts, sep)), nil
}
