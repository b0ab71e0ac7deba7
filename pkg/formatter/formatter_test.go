package formatter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/formatter"
	"github.com/thomasrohde/dplang/pkg/parser"
)

func mustFormat(t *testing.T, src string) string {
	t.Helper()
	script, diags := parser.Parse(src, "test.dp")
	require.Empty(t, diags, "parse %q", src)
	return formatter.Format(script)
}

// assertStable checks the output parses and formats to itself.
func assertStable(t *testing.T, formatted string) {
	t.Helper()
	assert.Equal(t, formatted, mustFormat(t, formatted))
}

func TestFormatScript(t *testing.T) {
	src := `-- INPUT close:number,  volume --
-- OUTPUT signal:string --
-- IMPORT ta --
-- PRECISION 2 --
-- ERROR --
return ["error: "+_error]
-- ERROR_END --
ma=ta.sma(close[-4:0],5)
if close>ma and volume>0:
  return ["buy"]
elif close<ma:
  return ["sell"]
else:
  return ["hold"]
score(x:number, w:number=2)->number:
  return x*w
`
	want := `-- INPUT close:number, volume --
-- OUTPUT signal:string --
-- IMPORT ta --
-- PRECISION 2 --
-- ERROR --
return ["error: " + _error]
-- ERROR_END --

score(x: number, w: number = 2) -> number:
    return x * w

ma = ta.sma(close[-4:0], 5)
if close > ma and volume > 0:
    return ["buy"]
elif close < ma:
    return ["sell"]
else:
    return ["hold"]
`
	got := mustFormat(t, src)
	assert.Equal(t, want, got)
	assertStable(t, got)
}

func TestFormatExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"x = (1+2)*3", "x = (1 + 2) * 3"},
		{"x = 1+(2*3)", "x = 1 + 2 * 3"},
		{"x = a-(b-c)", "x = a - (b - c)"},
		{"x = (a-b)-c", "x = a - b - c"},
		{"x = 2^3^2", "x = 2 ^ 3 ^ 2"},
		{"x = (2^3)^2", "x = (2 ^ 3) ^ 2"},
		{"x = -(a+b)", "x = -(a + b)"},
		{"x = -(-a)", "x = - -a"},
		{"x = not (a or b)", "x = not (a or b)"},
		{"x = 5 < y < 10", "x = 5 < y and y < 10"},
		{"x = (a < b) == c", "x = (a < b) == c"},
		{"x = a ? b : c ? d : e", "x = a ? b : c ? d : e"},
		{"x = (a ? b : c) + 1", "x = (a ? b : c) + 1"},
		{"x = [1, ...xs] |> map(v -> v * 2) |> sum", "x = [1, ...xs] |> map(v -> v * 2) |> sum"},
		{"x = reduce(xs, (acc, v) -> acc + v, 0)", "x = reduce(xs, (acc, v) -> acc + v, 0)"},
		{"f = () -> 42", "f = () -> 42"},
		{"x = xs[:] ", "x = xs[:]"},
		{"x = xs[1:]", "x = xs[1:]"},
		{`x = "a\"b\n"`, `x = "a\"b\n"`},
		{"[a, _, ...rest] = xs", "[a, _, ...rest] = xs"},
		{"x = 1.50", "x = 1.50"},
	}
	for _, tt := range tests {
		got := mustFormat(t, tt.src+"\n")
		assert.Equal(t, tt.want+"\n", got, "format %q", tt.src)
		assertStable(t, got)
	}
}

func TestFormatPackage(t *testing.T) {
	src := "package ta\n-- IMPORT base --\n_k=2\nscale(v):\n    return v*_k*base.unit\n"
	want := "package ta\n-- IMPORT base --\n\nscale(v):\n    return v * _k * base.unit\n\n_k = 2\n"
	got := mustFormat(t, src)
	assert.Equal(t, want, got)
	assertStable(t, got)
}

func TestHasComments(t *testing.T) {
	assert.True(t, formatter.HasComments("x = 1 # note"))
	assert.True(t, formatter.HasComments("# header\nx = 1"))
	assert.False(t, formatter.HasComments(`x = "#not a comment"`))
	assert.False(t, formatter.HasComments(`x = 'it\'s #fine'`))
}
