package evaluator_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

func TestTruthinessTable(t *testing.T) {
	tests := []struct {
		value    evaluator.Value
		expected bool
	}{
		{evaluator.NewNull(), false},
		{nil, false},
		{evaluator.NewBool(false), false},
		{evaluator.NewBool(true), true},
		{evaluator.NewNumber(0), true},
		{evaluator.NewNumber(-1), true},
		{evaluator.NewString(""), true},
		{evaluator.NewArray(nil), true},
		{evaluator.NewDecimal(decimal.Zero), true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, evaluator.Truthiness(tt.value), "%#v", tt.value)
	}
}

func TestArraySliceView(t *testing.T) {
	backing := evaluator.Array{Items: []evaluator.Value{num(1), num(2), num(3)}}
	s := evaluator.ArraySlice{Backing: backing, Start: -1, Length: 3}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, evaluator.Null{}, s.At(0), "positions before the backing start read null")
	assert.Equal(t, num(1), s.At(1))
	assert.Equal(t, evaluator.Null{}, s.At(3))
	assert.Equal(t, []evaluator.Value{evaluator.Null{}, num(1), num(2)}, s.Materialize().Items)
}

func TestMaterializeNested(t *testing.T) {
	backing := evaluator.Array{Items: []evaluator.Value{num(1), num(2)}}
	v := evaluator.Array{Items: []evaluator.Value{
		evaluator.ArraySlice{Backing: backing, Start: 0, Length: 2},
		num(3),
	}}
	got := evaluator.Materialize(v)
	assert.Equal(t, evaluator.Array{Items: []evaluator.Value{nums(1, 2), num(3)}}, got)
}

func TestDecimalArithmetic(t *testing.T) {
	d := func(s string) evaluator.Value { return evaluator.Decimal{Value: decimal.RequireFromString(s)} }

	sum, err := evaluator.Arithmetic(ast.OpAdd, d("0.1"), d("0.2"))
	require.NoError(t, err)
	assert.True(t, evaluator.Equal(d("0.3"), sum))

	mixed, err := evaluator.Arithmetic(ast.OpMul, d("1.5"), num(2))
	require.NoError(t, err)
	_, isDec := mixed.(evaluator.Decimal)
	assert.True(t, isDec, "decimal mixed with number stays decimal")
	assert.True(t, evaluator.Equal(num(3), mixed))

	_, err = evaluator.Arithmetic(ast.OpDiv, d("1"), d("0"))
	expectRuntimeError(t, err, diagnostics.EZeroDivision)
}

func TestRoundDecimals(t *testing.T) {
	v := evaluator.Array{Items: []evaluator.Value{
		evaluator.Decimal{Value: decimal.RequireFromString("2.345")},
		evaluator.Decimal{Value: decimal.RequireFromString("2.355")},
		num(1.23456),
	}}
	got := evaluator.RoundDecimals(v, 2).(evaluator.Array)
	assert.Equal(t, "2.34", got.Items[0].(evaluator.Decimal).Value.String())
	assert.Equal(t, "2.36", got.Items[1].(evaluator.Decimal).Value.String())
	assert.Equal(t, num(1.23456), got.Items[2])
}

func TestEqual(t *testing.T) {
	assert.True(t, evaluator.Equal(num(1), evaluator.Decimal{Value: decimal.NewFromInt(1)}))
	assert.True(t, evaluator.Equal(nums(1, 2), evaluator.ArraySlice{Backing: nums(0, 1, 2).(evaluator.Array), Start: 1, Length: 2}))
	assert.False(t, evaluator.Equal(num(1), evaluator.String{Value: "1"}))
	assert.False(t, evaluator.Equal(evaluator.Null{}, num(0)))
	assert.True(t, evaluator.Equal(nil, evaluator.Null{}))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3", evaluator.FormatValue(num(3)))
	assert.Equal(t, "2.5", evaluator.FormatValue(num(2.5)))
	assert.Equal(t, "null", evaluator.FormatValue(evaluator.Null{}))
	assert.Equal(t, `[1, "a", true]`, evaluator.FormatValue(evaluator.Array{Items: []evaluator.Value{
		num(1), evaluator.String{Value: "a"}, evaluator.Bool{Value: true},
	}}))
}

func TestValueToJSON(t *testing.T) {
	v := evaluator.Array{Items: []evaluator.Value{
		num(1), num(1.5), evaluator.Null{},
		evaluator.Decimal{Value: decimal.RequireFromString("0.10")},
		evaluator.ArraySlice{Backing: nums(7, 8).(evaluator.Array), Start: 1, Length: 1},
	}}
	assert.Equal(t, `[1,1.5,null,0.1,[8]]`, evaluator.ValueToJSONString(v))

	b, err := evaluator.RowToJSON(evaluator.Row{"b": num(2), "a": evaluator.String{Value: "x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2}`, string(b))
}

func TestParseJSONToValue(t *testing.T) {
	v, err := evaluator.ParseJSONToValue(json.RawMessage(`[1, "a", true, null, [2]]`))
	require.NoError(t, err)
	assert.Equal(t, evaluator.Array{Items: []evaluator.Value{
		num(1), evaluator.String{Value: "a"}, evaluator.Bool{Value: true}, evaluator.Null{}, nums(2),
	}}, v)
}

func TestCoerce(t *testing.T) {
	v, err := evaluator.Coerce(evaluator.String{Value: " 42 "}, ast.TypeNumber)
	require.NoError(t, err)
	assert.Equal(t, num(42), v)

	v, err = evaluator.Coerce(num(1.25), ast.TypeDecimal)
	require.NoError(t, err)
	assert.Equal(t, "1.25", v.(evaluator.Decimal).Value.String())

	v, err = evaluator.Coerce(evaluator.String{Value: "[1,2]"}, ast.TypeArray)
	require.NoError(t, err)
	assert.Equal(t, nums(1, 2), v)

	v, err = evaluator.Coerce(evaluator.Null{}, ast.TypeNumber)
	require.NoError(t, err)
	assert.Equal(t, evaluator.Null{}, v)

	_, err = evaluator.Coerce(evaluator.String{Value: "abc"}, ast.TypeNumber)
	expectRuntimeError(t, err, diagnostics.EType)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "array", evaluator.TypeName(evaluator.ArraySlice{}))
	assert.Equal(t, "decimal", evaluator.TypeName(evaluator.Decimal{}))
	assert.Equal(t, "builtin", evaluator.TypeName(evaluator.Builtin{Name: "abs"}))
	assert.Equal(t, "null", evaluator.TypeName(nil))
}

func TestEnvSnapshotIsDetached(t *testing.T) {
	env := evaluator.NewEnv(nil)
	env.Set("a", num(1))
	snap := env.Snapshot([]string{"a", "missing"})

	env.Set("a", num(2))
	v, ok := snap.Get("a")
	require.True(t, ok)
	assert.Equal(t, num(1), v)
	assert.False(t, snap.Has("missing"))
}
