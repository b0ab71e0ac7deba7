package evaluator

import (
	"fmt"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// Budget holds the per-row resource limits of an evaluator. Zero values
// select the defaults.
type Budget struct {
	MaxCallDepth  int
	MaxIterations int64
}

// DefaultMaxCallDepth bounds user function and lambda recursion.
const DefaultMaxCallDepth = 256

// DefaultMaxIterations bounds the callback invocations made by map, filter
// and reduce within one row.
const DefaultMaxIterations = 1_000_000

// BudgetTracker tracks resource consumption during one row.
type BudgetTracker struct {
	Depth      int
	Iterations int64
}

func (b Budget) withDefaults() Budget {
	if b.MaxCallDepth <= 0 {
		b.MaxCallDepth = DefaultMaxCallDepth
	}
	if b.MaxIterations <= 0 {
		b.MaxIterations = DefaultMaxIterations
	}
	return b
}

func (ev *Evaluator) enter(span ast.Span) error {
	if ev.tracker.Depth >= ev.budget.MaxCallDepth {
		return &RuntimeError{
			Code:    diagnostics.EBudget,
			Message: fmt.Sprintf("maximum call depth exceeded (%d)", ev.budget.MaxCallDepth),
			Span:    &span,
		}
	}
	ev.tracker.Depth++
	return nil
}

func (ev *Evaluator) leave() {
	ev.tracker.Depth--
}

func (ev *Evaluator) checkIterationBudget(span ast.Span) error {
	if ev.tracker.Iterations >= ev.budget.MaxIterations {
		return &RuntimeError{
			Code:    diagnostics.EBudget,
			Message: fmt.Sprintf("iteration budget exceeded (max %d)", ev.budget.MaxIterations),
			Span:    &span,
		}
	}
	ev.tracker.Iterations++
	return nil
}

// ResetBudget clears the consumption counters; the runtime calls it at
// the start of every row.
func (ev *Evaluator) ResetBudget() {
	ev.tracker = BudgetTracker{}
}
