// Package diagnostics defines DPLang diagnostic types for lex, parse,
// semantic and runtime errors.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thomasrohde/dplang/pkg/ast"
)

// Diagnostic code constants.
const (
	ELex                = "E_LEX"
	EUnterminatedString = "E_UNTERMINATED_STRING"
	EIndent             = "E_INDENT"
	ESyntax             = "E_SYNTAX"
	EUnexpectedToken    = "E_UNEXPECTED_TOKEN"
	EUndefined          = "E_UNDEFINED"
	EShadow             = "E_SHADOW"
	WUnused             = "W_UNUSED"
	EExitOutsideError   = "E_EXIT_OUTSIDE_ERROR"
	EPackage            = "E_PACKAGE"
	EImportCycle        = "E_IMPORT_CYCLE"
	EZeroDivision       = "E_ZERO_DIVISION"
	EType               = "E_TYPE"
	EIndexContext       = "E_INDEX_CONTEXT"
	ELengthMismatch     = "E_LENGTH_MISMATCH"
	EArity              = "E_ARITY"
	EBudget             = "E_BUDGET"
	EIO                 = "E_IO"
	EConfig             = "E_CONFIG"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic represents a lex, parse, semantic, or runtime diagnostic.
type Diagnostic struct {
	Code     string    `json:"code"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Span     *ast.Span `json:"span,omitempty"`
	Hint     string    `json:"hint,omitempty"`
}

// MakeDiag creates a new error Diagnostic.
func MakeDiag(code, message string, span *ast.Span, hint string) Diagnostic {
	return Diagnostic{
		Code:     code,
		Severity: SeverityError,
		Message:  message,
		Span:     span,
		Hint:     hint,
	}
}

// MakeWarning creates a non-fatal Diagnostic.
func MakeWarning(code, message string, span *ast.Span, hint string) Diagnostic {
	d := MakeDiag(code, message, span, hint)
	d.Severity = SeverityWarning
	return d
}

// IsError reports whether d blocks execution.
func (d Diagnostic) IsError() bool {
	return d.Severity != SeverityWarning
}

// HasErrors reports whether any diagnostic in diags is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.IsError() {
			return true
		}
	}
	return false
}

// Errors filters diags down to errors.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

var (
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	locStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// FormatDiagnostic formats a single diagnostic for display.
func FormatDiagnostic(d Diagnostic, pretty bool) string {
	if !pretty {
		b, _ := json.Marshal(d)
		return string(b)
	}
	loc := "<unknown>"
	if d.Span != nil {
		loc = fmt.Sprintf("%s:%d:%d", d.Span.File, d.Span.StartLine, d.Span.StartCol)
	}
	label := errorStyle.Render(fmt.Sprintf("error[%s]", d.Code))
	if !d.IsError() {
		label = warningStyle.Render(fmt.Sprintf("warning[%s]", d.Code))
	}
	out := fmt.Sprintf("%s: %s\n  --> %s", label, d.Message, locStyle.Render(loc))
	if d.Hint != "" {
		out += "\n  " + hintStyle.Render("hint: "+d.Hint)
	}
	return out
}

// FormatDiagnostics formats a slice of diagnostics for display.
func FormatDiagnostics(diags []Diagnostic, pretty bool) string {
	if !pretty {
		b, _ := json.Marshal(diags)
		return string(b)
	}
	parts := make([]string, len(diags))
	for i, d := range diags {
		parts[i] = FormatDiagnostic(d, true)
	}
	return strings.Join(parts, "\n\n")
}
