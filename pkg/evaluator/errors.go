package evaluator

import (
	"fmt"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// RuntimeError represents an error raised while executing a row.
type RuntimeError struct {
	Code    string
	Message string
	Span    *ast.Span
	Hint    string
}

func (e *RuntimeError) Error() string {
	if e.Span != nil {
		return fmt.Sprintf("%s:%d:%d: %s", e.Span.File, e.Span.StartLine, e.Span.StartCol, e.Message)
	}
	return e.Message
}

var errorKinds = map[string]string{
	diagnostics.EZeroDivision:   "ZeroDivision",
	diagnostics.EType:           "TypeError",
	diagnostics.EUndefined:      "UndefinedVariable",
	diagnostics.EIndexContext:   "IndexContextError",
	diagnostics.ELengthMismatch: "ArrayLengthMismatch",
	diagnostics.EArity:          "ArityError",
	diagnostics.EBudget:         "BudgetExceeded",
	diagnostics.EPackage:        "PackageError",
}

// Kind returns the error kind name exposed to scripts as _error.kind.
func (e *RuntimeError) Kind() string {
	if k, ok := errorKinds[e.Code]; ok {
		return k
	}
	return "RuntimeError"
}

// Line returns the source line of the failing construct, or 0.
func (e *RuntimeError) Line() int {
	if e.Span == nil {
		return 0
	}
	return e.Span.StartLine
}

// Diagnostic converts the error into a diagnostic.
func (e *RuntimeError) Diagnostic() diagnostics.Diagnostic {
	return diagnostics.MakeDiag(e.Code, e.Message, e.Span, e.Hint)
}

func Errorf(code, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func TypeErrorf(format string, args ...any) *RuntimeError {
	return Errorf(diagnostics.EType, format, args...)
}

// atSpan attaches span to a runtime error that does not have one yet.
func atSpan(err error, span ast.Span) error {
	if re, ok := err.(*RuntimeError); ok && re.Span == nil {
		re.Span = &span
	}
	return err
}
