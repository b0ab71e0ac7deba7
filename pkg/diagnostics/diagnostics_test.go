package diagnostics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

func TestMakeDiag(t *testing.T) {
	span := &ast.Span{File: "test.dp", StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 5}
	d := diagnostics.MakeDiag(diagnostics.ESyntax, "unexpected token", span, "check syntax")

	assert.Equal(t, diagnostics.ESyntax, d.Code)
	assert.Equal(t, "unexpected token", d.Message)
	assert.True(t, d.IsError())
}

func TestMakeWarning(t *testing.T) {
	w := diagnostics.MakeWarning(diagnostics.WUnused, "unused variable 'x'", nil, "")
	assert.False(t, w.IsError())
	assert.False(t, diagnostics.HasErrors([]diagnostics.Diagnostic{w}))

	e := diagnostics.MakeDiag(diagnostics.EShadow, "x", nil, "")
	assert.True(t, diagnostics.HasErrors([]diagnostics.Diagnostic{w, e}))
	assert.Len(t, diagnostics.Errors([]diagnostics.Diagnostic{w, e}), 1)
}

func TestFormatDiagnosticPretty(t *testing.T) {
	span := &ast.Span{File: "test.dp", StartLine: 3, StartCol: 5, EndLine: 3, EndCol: 10}
	d := diagnostics.MakeDiag(diagnostics.EUndefined, "undefined variable 'clse'", span, "did you mean 'close'?")

	out := diagnostics.FormatDiagnostic(d, true)
	assert.Contains(t, out, "error[E_UNDEFINED]")
	assert.Contains(t, out, "test.dp:3:5")
	assert.Contains(t, out, "hint:")
}

func TestFormatWarningPretty(t *testing.T) {
	d := diagnostics.MakeWarning(diagnostics.WUnused, "unused variable 'tmp'", nil, "")
	out := diagnostics.FormatDiagnostic(d, true)
	assert.Contains(t, out, "warning[W_UNUSED]")
	assert.Contains(t, out, "<unknown>")
}

func TestFormatDiagnosticJSON(t *testing.T) {
	d := diagnostics.MakeDiag(diagnostics.ELex, "bad token", nil, "")
	out := diagnostics.FormatDiagnostic(d, false)
	assert.Contains(t, out, `"code":"E_LEX"`)
	assert.Contains(t, out, `"severity":"error"`)
}

func TestSuggest(t *testing.T) {
	candidates := []string{"close", "open", "volume", "high", "low"}

	assert.Equal(t, "close", diagnostics.Suggest("clse", candidates))
	assert.Equal(t, "close", diagnostics.Suggest("closs", candidates))
	assert.Equal(t, "volume", diagnostics.Suggest("vol", candidates))
	assert.Equal(t, "close", diagnostics.Suggest("clsoe", candidates), "swapped letters")
	assert.Equal(t, "volume", diagnostics.Suggest("vloume", candidates), "swapped letters")
	assert.Equal(t, "", diagnostics.Suggest("ab", []string{"xy"}))
	assert.Equal(t, "", diagnostics.Suggest("zzzzzz", candidates))
	assert.Equal(t, "", diagnostics.Suggest("x", nil))
}

func TestDidYouMean(t *testing.T) {
	assert.Equal(t, "did you mean 'close'?", diagnostics.DidYouMean("clse", []string{"close"}))
	assert.Equal(t, "", diagnostics.DidYouMean("qqq", []string{"close"}))
}
