package evaluator

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// numeric is the common view of Number, Decimal and Null operands.
type numeric struct {
	f       float64
	d       decimal.Decimal
	decimal bool
}

// toNumeric converts an arithmetic operand. Null counts as 0.
func toNumeric(v Value) (numeric, bool) {
	switch val := v.(type) {
	case nil, Null:
		return numeric{}, true
	case Number:
		return numeric{f: val.Value}, true
	case Decimal:
		return numeric{d: val.Value, decimal: true}, true
	}
	return numeric{}, false
}

func (n numeric) asDecimal() decimal.Decimal {
	if n.decimal {
		return n.d
	}
	return decimal.NewFromFloat(n.f)
}

func (n numeric) asFloat() float64 {
	if n.decimal {
		f, _ := n.d.Float64()
		return f
	}
	return n.f
}

func (n numeric) isZero() bool {
	if n.decimal {
		return n.d.IsZero()
	}
	return n.f == 0
}

// Broadcast applies f element-wise when either operand is an array:
// array with scalar pairs every element with the scalar, two arrays pair
// elements by position and must have equal length.
func Broadcast(l, r Value, f func(a, b Value) (Value, error)) (Value, error) {
	la, lok := AsArrayLike(l)
	ra, rok := AsArrayLike(r)
	switch {
	case lok && rok:
		if la.Len() != ra.Len() {
			return nil, Errorf(diagnostics.ELengthMismatch,
				"array length mismatch: %d vs %d", la.Len(), ra.Len())
		}
		out := make([]Value, la.Len())
		for i := range out {
			v, err := f(la.At(i), ra.At(i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return Array{Items: out}, nil
	case lok:
		out := make([]Value, la.Len())
		for i := range out {
			v, err := f(la.At(i), r)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return Array{Items: out}, nil
	case rok:
		out := make([]Value, ra.Len())
		for i := range out {
			v, err := f(l, ra.At(i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return Array{Items: out}, nil
	}
	return f(l, r)
}

// Arithmetic evaluates + - * / % ^ with broadcasting.
func Arithmetic(op ast.BinaryOp, l, r Value) (Value, error) {
	return Broadcast(l, r, func(a, b Value) (Value, error) {
		return scalarArithmetic(op, a, b)
	})
}

func scalarArithmetic(op ast.BinaryOp, l, r Value) (Value, error) {
	if _, isArr := AsArrayLike(l); isArr {
		return Arithmetic(op, l, r)
	}
	if _, isArr := AsArrayLike(r); isArr {
		return Arithmetic(op, l, r)
	}

	if op == ast.OpAdd {
		_, ls := l.(String)
		_, rs := r.(String)
		if ls || rs {
			return String{Value: FormatValue(l) + FormatValue(r)}, nil
		}
	}

	ln, lok := toNumeric(l)
	rn, rok := toNumeric(r)
	if !lok || !rok {
		return nil, TypeErrorf("unsupported operand types for %s: %s and %s", op, TypeName(l), TypeName(r))
	}

	if (op == ast.OpDiv || op == ast.OpMod) && rn.isZero() {
		return nil, Errorf(diagnostics.EZeroDivision, "division by zero")
	}

	if ln.decimal || rn.decimal {
		a, b := ln.asDecimal(), rn.asDecimal()
		switch op {
		case ast.OpAdd:
			return Decimal{Value: a.Add(b)}, nil
		case ast.OpSub:
			return Decimal{Value: a.Sub(b)}, nil
		case ast.OpMul:
			return Decimal{Value: a.Mul(b)}, nil
		case ast.OpDiv:
			return Decimal{Value: a.Div(b)}, nil
		case ast.OpMod:
			return Decimal{Value: a.Mod(b)}, nil
		case ast.OpPow:
			return Decimal{Value: decimal.NewFromFloat(math.Pow(ln.asFloat(), rn.asFloat()))}, nil
		}
		return nil, TypeErrorf("unknown arithmetic operator %s", op)
	}

	a, b := ln.f, rn.f
	switch op {
	case ast.OpAdd:
		return Number{Value: a + b}, nil
	case ast.OpSub:
		return Number{Value: a - b}, nil
	case ast.OpMul:
		return Number{Value: a * b}, nil
	case ast.OpDiv:
		return Number{Value: a / b}, nil
	case ast.OpMod:
		return Number{Value: math.Mod(a, b)}, nil
	case ast.OpPow:
		return Number{Value: math.Pow(a, b)}, nil
	}
	return nil, TypeErrorf("unknown arithmetic operator %s", op)
}

// Compare evaluates a comparison operator with broadcasting. Comparisons
// involving an array yield an array of bools.
func Compare(op ast.BinaryOp, l, r Value) (Value, error) {
	return Broadcast(l, r, func(a, b Value) (Value, error) {
		return scalarCompare(op, a, b)
	})
}

func scalarCompare(op ast.BinaryOp, l, r Value) (Value, error) {
	if _, isArr := AsArrayLike(l); isArr {
		return Compare(op, l, r)
	}
	if _, isArr := AsArrayLike(r); isArr {
		return Compare(op, l, r)
	}

	switch op {
	case ast.OpEqEq:
		return Bool{Value: Equal(l, r)}, nil
	case ast.OpNeq:
		return Bool{Value: !Equal(l, r)}, nil
	}

	// Ordering against null is never true.
	if IsNull(l) || IsNull(r) {
		return Bool{Value: false}, nil
	}

	var c int
	ln, lok := toNumeric(l)
	rn, rok := toNumeric(r)
	ls, lstr := l.(String)
	rs, rstr := r.(String)
	switch {
	case lok && rok:
		if ln.decimal || rn.decimal {
			c = ln.asDecimal().Cmp(rn.asDecimal())
		} else {
			switch {
			case ln.f < rn.f:
				c = -1
			case ln.f > rn.f:
				c = 1
			}
		}
	case lstr && rstr:
		c = strings.Compare(ls.Value, rs.Value)
	default:
		return nil, TypeErrorf("cannot compare %s and %s with %s", TypeName(l), TypeName(r), op)
	}

	switch op {
	case ast.OpLt:
		return Bool{Value: c < 0}, nil
	case ast.OpLtEq:
		return Bool{Value: c <= 0}, nil
	case ast.OpGt:
		return Bool{Value: c > 0}, nil
	case ast.OpGtEq:
		return Bool{Value: c >= 0}, nil
	}
	return nil, TypeErrorf("unknown comparison operator %s", op)
}

// Equal reports deep equality. Numbers and decimals compare numerically;
// null equals only null.
func Equal(a, b Value) bool {
	an, aNum := toNumeric(a)
	bn, bNum := toNumeric(b)
	if aNum && bNum && !IsNull(a) && !IsNull(b) {
		if an.decimal || bn.decimal {
			return an.asDecimal().Equal(bn.asDecimal())
		}
		return an.f == bn.f
	}

	switch av := a.(type) {
	case nil, Null:
		return IsNull(b)
	case Bool:
		bv, ok := b.(Bool)
		return ok && av.Value == bv.Value
	case String:
		bv, ok := b.(String)
		return ok && av.Value == bv.Value
	case Array, ArraySlice:
		aa, _ := AsArrayLike(a)
		ba, ok := AsArrayLike(b)
		if !ok || aa.Len() != ba.Len() {
			return false
		}
		for i := 0; i < aa.Len(); i++ {
			if !Equal(aa.At(i), ba.At(i)) {
				return false
			}
		}
		return true
	case Builtin:
		bv, ok := b.(Builtin)
		return ok && av.Name == bv.Name
	}
	return false
}

// Negate evaluates unary minus with broadcasting.
func Negate(v Value) (Value, error) {
	if arr, ok := AsArrayLike(v); ok {
		out := make([]Value, arr.Len())
		for i := range out {
			n, err := Negate(arr.At(i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return Array{Items: out}, nil
	}
	n, ok := toNumeric(v)
	if !ok {
		return nil, TypeErrorf("bad operand type for unary -: %s", TypeName(v))
	}
	if n.decimal {
		return Decimal{Value: n.d.Neg()}, nil
	}
	return Number{Value: -n.f}, nil
}

// Not evaluates logical negation; arrays negate element-wise.
func Not(v Value) Value {
	if arr, ok := AsArrayLike(v); ok {
		out := make([]Value, arr.Len())
		for i := range out {
			out[i] = Not(arr.At(i))
		}
		return Array{Items: out}
	}
	return Bool{Value: !Truthiness(v)}
}

// Logical evaluates and/or element-wise when either side is an array.
func Logical(op ast.BinaryOp, l, r Value) (Value, error) {
	return Broadcast(l, r, func(a, b Value) (Value, error) {
		if _, isArr := AsArrayLike(a); isArr {
			return Logical(op, a, b)
		}
		if _, isArr := AsArrayLike(b); isArr {
			return Logical(op, a, b)
		}
		if op == ast.OpAnd {
			return Bool{Value: Truthiness(a) && Truthiness(b)}, nil
		}
		return Bool{Value: Truthiness(a) || Truthiness(b)}, nil
	})
}

// RoundDecimals rounds every decimal in v to places using banker's
// rounding.
func RoundDecimals(v Value, places int) Value {
	switch val := v.(type) {
	case Decimal:
		return Decimal{Value: val.Value.RoundBank(int32(places))}
	case Array, ArraySlice:
		items, _ := Elements(val)
		out := make([]Value, len(items))
		for i, item := range items {
			out[i] = RoundDecimals(item, places)
		}
		return Array{Items: out}
	}
	return v
}
