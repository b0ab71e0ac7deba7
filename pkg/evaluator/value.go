// Package evaluator implements the DPLang value model and tree-walking
// evaluator.
package evaluator

import (
	"github.com/shopspring/decimal"

	"github.com/thomasrohde/dplang/pkg/ast"
)

// Value is the interface for all DPLang runtime values.
// Use the sealed marker method to restrict implementations to this package.
type Value interface {
	value() // sealed marker
}

// Null represents the absence of a value.
type Null struct{}

func (Null) value() {}

// Bool represents a boolean value.
type Bool struct {
	Value bool
}

func (Bool) value() {}

// Number represents a floating-point numeric value.
type Number struct {
	Value float64
}

func (Number) value() {}

// Decimal represents an arbitrary-precision decimal value.
type Decimal struct {
	Value decimal.Decimal
}

func (Decimal) value() {}

// String represents a string value.
type String struct {
	Value string
}

func (String) value() {}

// Array is an owned ordered collection of values.
type Array struct {
	Items []Value
}

func (Array) value() {}

// Len returns the number of elements.
func (a Array) Len() int { return len(a.Items) }

// At returns element i, or Null when i is out of range.
func (a Array) At(i int) Value {
	if i < 0 || i >= len(a.Items) {
		return Null{}
	}
	return a.Items[i]
}

// Sequence is an indexable backing store for an ArraySlice. At returns
// Null for positions that hold no value.
type Sequence interface {
	At(i int) Value
}

// ArraySlice is a read-only view of Length consecutive elements of
// Backing starting at Start. It never owns element storage; Start may be
// negative when the view reaches before the first available element.
type ArraySlice struct {
	Backing Sequence
	Start   int
	Length  int
}

func (ArraySlice) value() {}

// Len returns the number of elements in the view.
func (s ArraySlice) Len() int { return s.Length }

// At returns element i of the view.
func (s ArraySlice) At(i int) Value {
	if i < 0 || i >= s.Length || s.Backing == nil {
		return Null{}
	}
	return s.Backing.At(s.Start + i)
}

// Materialize copies the view into an owned Array.
func (s ArraySlice) Materialize() Array {
	items := make([]Value, s.Length)
	for i := range items {
		items[i] = s.At(i)
	}
	return Array{Items: items}
}

// Lambda is an anonymous single-expression function. Captured is a
// snapshot of the names the body referenced at creation time.
type Lambda struct {
	Params   []string
	Body     ast.Expr
	Captured *Env
}

func (Lambda) value() {}

// Function is a named user or package function.
type Function struct {
	Decl    *ast.FnDecl
	Closure *Env
	Package string
	Imports map[string]map[string]Value
}

func (Function) value() {}

// Builtin refers to a builtin function by name so it can be passed as a
// value, e.g. map(xs, abs).
type Builtin struct {
	Name string
}

func (Builtin) value() {}

// NewNull creates a null value.
func NewNull() Value {
	return Null{}
}

// NewBool creates a boolean value.
func NewBool(b bool) Value {
	return Bool{Value: b}
}

// NewNumber creates a numeric value.
func NewNumber(n float64) Value {
	return Number{Value: n}
}

// NewDecimal creates a decimal value.
func NewDecimal(d decimal.Decimal) Value {
	return Decimal{Value: d}
}

// NewString creates a string value.
func NewString(s string) Value {
	return String{Value: s}
}

// NewArray creates an array value.
func NewArray(items []Value) Value {
	return Array{Items: items}
}

// Truthiness returns the boolean interpretation of a value.
// Only null and false are falsy; 0, "" and [] are truthy.
func Truthiness(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return false
	case Bool:
		return val.Value
	default:
		return true
	}
}

// IsNull reports whether v is null.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	}
	return false
}

// ArrayLike is implemented by Array and ArraySlice.
type ArrayLike interface {
	Value
	Len() int
	At(i int) Value
}

// AsArrayLike returns v as an ArrayLike when it is an array or a slice.
func AsArrayLike(v Value) (ArrayLike, bool) {
	switch val := v.(type) {
	case Array:
		return val, true
	case ArraySlice:
		return val, true
	}
	return nil, false
}

// Elements returns the elements of an array or slice. Arrays return their
// backing slice without copying; slices are materialized.
func Elements(v Value) ([]Value, bool) {
	switch val := v.(type) {
	case Array:
		return val.Items, true
	case ArraySlice:
		return val.Materialize().Items, true
	}
	return nil, false
}

// Materialize replaces slice views with owned arrays, recursively.
func Materialize(v Value) Value {
	switch val := v.(type) {
	case ArraySlice:
		return Materialize(val.Materialize())
	case Array:
		nested := false
		for _, item := range val.Items {
			if _, ok := AsArrayLike(item); ok {
				nested = true
				break
			}
		}
		if !nested {
			return val
		}
		out := make([]Value, len(val.Items))
		for i, item := range val.Items {
			out[i] = Materialize(item)
		}
		return Array{Items: out}
	}
	return v
}

// IsCallable reports whether v can be called.
func IsCallable(v Value) bool {
	switch v.(type) {
	case Lambda, Function, Builtin:
		return true
	}
	return false
}

// TypeName returns the DPLang type name of a value.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case Decimal:
		return "decimal"
	case String:
		return "string"
	case Array, ArraySlice:
		return "array"
	case Lambda:
		return "lambda"
	case Function:
		return "function"
	case Builtin:
		return "builtin"
	}
	return "unknown"
}
