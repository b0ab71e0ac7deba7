package evaluator

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/thomasrohde/dplang/pkg/ast"
)

// Row is one input or output record, keyed by column name.
type Row map[string]Value

// ValueToJSON marshals a Value to JSON bytes.
// Numbers output integers without decimal point; decimals keep their
// exact digits.
func ValueToJSON(v Value) ([]byte, error) {
	return json.Marshal(valueToRaw(v))
}

// RowToJSON marshals a row as a JSON object with sorted keys.
func RowToJSON(row Row) ([]byte, error) {
	raw := make(map[string]any, len(row))
	for k, v := range row {
		raw[k] = valueToRaw(v)
	}
	return json.Marshal(raw)
}

func valueToRaw(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil

	case Bool:
		return val.Value

	case Number:
		if math.IsInf(val.Value, 0) || math.IsNaN(val.Value) {
			return nil
		}
		// Output integers without decimal point
		if val.Value == math.Trunc(val.Value) && math.Abs(val.Value) < 1e15 {
			return int64(val.Value)
		}
		return val.Value

	case Decimal:
		return json.Number(val.Value.String())

	case String:
		return val.Value

	case Array, ArraySlice:
		items, _ := Elements(val)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToRaw(item)
		}
		return out

	case Lambda:
		return "<lambda>"
	case Function:
		return "<fn " + val.Decl.Name + ">"
	case Builtin:
		return "<builtin " + val.Name + ">"
	}
	return nil
}

// ValueToJSONString is a convenience that returns a string.
func ValueToJSONString(v Value) string {
	b, err := ValueToJSON(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// ParseJSONToValue converts a JSON document to a Value.
func ParseJSONToValue(data json.RawMessage) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromAny(raw), nil
}

// FromAny converts a decoded JSON (or YAML) value to a Value. Objects have
// no DPLang counterpart and become null.
func FromAny(v any) Value {
	if v == nil {
		return NewNull()
	}
	switch val := v.(type) {
	case bool:
		return NewBool(val)
	case float64:
		return NewNumber(val)
	case int:
		return NewNumber(float64(val))
	case int64:
		return NewNumber(float64(val))
	case string:
		return NewString(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return NewNumber(f)
		}
		return NewNull()
	case []any:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = FromAny(item)
		}
		return NewArray(items)
	}
	return NewNull()
}

// FormatNumber formats a float64 as an integer string if it's a whole number.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && !math.IsNaN(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// FormatValue renders a value the way string concatenation and print
// show it.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return strconv.FormatBool(val.Value)
	case Number:
		return FormatNumber(val.Value)
	case Decimal:
		return val.Value.String()
	case String:
		return val.Value
	case Array, ArraySlice:
		items, _ := Elements(val)
		parts := make([]string, len(items))
		for i, item := range items {
			if s, ok := item.(String); ok {
				parts[i] = strconv.Quote(s.Value)
				continue
			}
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ValueToJSONString(v)
}

// Coerce converts v to the declared type t. Null passes through every
// type; conversions that cannot succeed are E_TYPE errors.
func Coerce(v Value, t ast.ParamType) (Value, error) {
	if IsNull(v) || t == ast.TypeAny {
		return v, nil
	}
	switch t {
	case ast.TypeNumber:
		switch val := v.(type) {
		case Number:
			return val, nil
		case Decimal:
			f, _ := val.Value.Float64()
			return Number{Value: f}, nil
		case String:
			f, err := strconv.ParseFloat(strings.TrimSpace(val.Value), 64)
			if err == nil {
				return Number{Value: f}, nil
			}
		case Bool:
			if val.Value {
				return Number{Value: 1}, nil
			}
			return Number{Value: 0}, nil
		}
	case ast.TypeDecimal:
		switch val := v.(type) {
		case Decimal:
			return val, nil
		case Number:
			return Decimal{Value: decimal.NewFromFloat(val.Value)}, nil
		case String:
			d, err := decimal.NewFromString(strings.TrimSpace(val.Value))
			if err == nil {
				return Decimal{Value: d}, nil
			}
		}
	case ast.TypeString:
		return String{Value: FormatValue(v)}, nil
	case ast.TypeBool:
		switch val := v.(type) {
		case Bool:
			return val, nil
		case String:
			if b, err := strconv.ParseBool(strings.TrimSpace(val.Value)); err == nil {
				return Bool{Value: b}, nil
			}
		case Number:
			return Bool{Value: val.Value != 0}, nil
		}
	case ast.TypeArray:
		if _, ok := AsArrayLike(v); ok {
			return v, nil
		}
		if s, ok := v.(String); ok {
			if parsed, err := ParseJSONToValue(json.RawMessage(s.Value)); err == nil {
				if _, isArr := parsed.(Array); isArr {
					return parsed, nil
				}
			}
		}
	case ast.TypeNull:
		return nil, TypeErrorf("expected null, got %s", TypeName(v))
	}
	return nil, TypeErrorf("cannot convert %s %s to %s", TypeName(v), FormatValue(v), t)
}
