package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/history"
)

// ErrHalted is returned once a script has executed exit, and for every
// row offered after that.
var ErrHalted = errors.New("run halted by exit")

// Stats counts what an interpreter has done so far.
type Stats struct {
	Rows      int // rows executed, skipped rows included
	Emitted   int // rows that produced output
	Recovered int // rows whose error the ERROR block handled
}

// RowSource yields input rows. Next returns io.EOF after the last row.
type RowSource interface {
	Next() (evaluator.Row, error)
}

// Interpreter executes one stream of rows against a Program. It owns its
// history and is not safe for concurrent use.
type Interpreter struct {
	prog    *Program
	ev      *evaluator.Evaluator
	store   *history.Store
	globals *evaluator.Env
	runID   string
	logger  zerolog.Logger
	index   int
	halted  bool
	stats   Stats
}

// RunID returns the run ID used in trace events and logs.
func (in *Interpreter) RunID() string { return in.runID }

// History returns the instance's history store.
func (in *Interpreter) History() *history.Store { return in.store }

// Stats returns the counters of the run so far.
func (in *Interpreter) Stats() Stats { return in.stats }

// Halted reports whether the script has executed exit or failed.
func (in *Interpreter) Halted() bool { return in.halted }

// Reset clears the history and row index so the instance can process a
// new stream.
func (in *Interpreter) Reset() {
	in.store.Reset()
	in.index = 0
	in.halted = false
	in.stats = Stats{}
}

func (in *Interpreter) emit(event evaluator.TraceEventType, data map[string]any) {
	if trace := in.prog.rt.trace; trace != nil {
		trace(evaluator.TraceEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			RunID:     in.runID,
			Event:     event,
			Data:      data,
		})
	}
}

// ExecuteOne runs the script for one row. It returns the output row, or
// nil when the script did not return a value for this row. A runtime
// error not handled by the ERROR block halts the interpreter and is
// returned; exit returns ErrHalted.
func (in *Interpreter) ExecuteOne(row evaluator.Row) (evaluator.Row, error) {
	if in.halted {
		return nil, ErrHalted
	}
	script := in.prog.script
	in.emit(evaluator.TraceRowStart, map[string]any{"index": in.index})

	env := evaluator.NewRowEnv(in.globals)
	env.Set(indexVar, evaluator.NewNumber(float64(in.index)))
	var inputErr error
	for _, p := range script.Inputs() {
		v, ok := row[p.Name]
		if !ok || v == nil {
			v = evaluator.Null{}
		}
		coerced, err := evaluator.Coerce(v, p.Type)
		if err != nil {
			if inputErr == nil {
				inputErr = inputError(p, err)
			}
			coerced = evaluator.Null{}
		}
		env.Set(p.Name, coerced)
	}

	in.ev.ResetBudget()
	var (
		flow evaluator.Flow
		err  error
	)
	if inputErr != nil {
		flow, err = in.ev.HandleError(script, env, inputErr)
	} else {
		flow, err = in.ev.ExecRow(script, env)
	}
	var out evaluator.Row
	if err == nil {
		out, err = in.outputs(flow)
		// An output that does not fit OUTPUT is a row error like any
		// other; the ERROR block's own return must fit.
		if err != nil && flow.Recovered == nil {
			flow, err = in.ev.HandleError(script, env, err)
			if err == nil {
				out, err = in.outputs(flow)
			}
		}
	}
	in.stats.Rows++
	if err != nil {
		in.halted = true
		in.emit(evaluator.TraceRowEnd, map[string]any{"index": in.index, "error": err.Error()})
		return nil, fmt.Errorf("row %d: %w", in.index, err)
	}
	if re := flow.Recovered; re != nil {
		in.stats.Recovered++
		in.logger.Warn().Int("row", in.index).Str("kind", re.Kind()).Int("line", re.Line()).Msg(re.Message)
	}
	if flow.Kind == evaluator.FlowExit {
		in.halted = true
		in.emit(evaluator.TraceRowEnd, map[string]any{"index": in.index, "exit": true})
		return nil, ErrHalted
	}

	commit := make(map[string]evaluator.Value, len(in.prog.columns))
	for _, name := range in.prog.columns {
		if v, ok := env.Get(name); ok {
			commit[name] = v
		}
	}
	for _, p := range script.Outputs() {
		if v, ok := out[p.Name]; ok {
			commit[p.Name] = v
		} else {
			commit[p.Name] = evaluator.Null{}
		}
	}
	in.store.CommitRow(commit)

	in.emit(evaluator.TraceRowEnd, map[string]any{"index": in.index, "emitted": out != nil})
	in.index++
	if out != nil {
		in.stats.Emitted++
	}
	return out, nil
}

const indexVar = "_index"

// outputs maps a returned value to the output row; other flows emit
// nothing.
func (in *Interpreter) outputs(flow evaluator.Flow) (evaluator.Row, error) {
	if flow.Kind != evaluator.FlowReturn || flow.Value == nil {
		return nil, nil
	}
	return in.mapOutputs(flow.Value)
}

func inputError(p ast.Param, err error) error {
	var re *evaluator.RuntimeError
	if errors.As(err, &re) {
		if re.Span == nil {
			span := p.Span
			re.Span = &span
		}
		re.Message = fmt.Sprintf("input '%s': %s", p.Name, re.Message)
		return re
	}
	return err
}

// mapOutputs zips the returned value with the declared outputs. A single
// output accepts a scalar or a one-element array; array-typed single
// outputs take the value whole.
func (in *Interpreter) mapOutputs(v evaluator.Value) (evaluator.Row, error) {
	script := in.prog.script
	outs := script.Outputs()
	digits, hasPrecision := script.Precision()
	finish := func(v evaluator.Value, t ast.ParamType) (evaluator.Value, error) {
		v, err := evaluator.Coerce(evaluator.Materialize(v), t)
		if err != nil {
			return nil, err
		}
		if hasPrecision {
			v = evaluator.RoundDecimals(v, digits)
		}
		return v, nil
	}

	if len(outs) == 0 {
		fv, err := finish(v, ast.TypeAny)
		if err != nil {
			return nil, err
		}
		return evaluator.Row{ResultField: fv}, nil
	}

	elems, isArray := evaluator.Elements(v)
	var values []evaluator.Value
	switch {
	case len(outs) == 1 && (outs[0].Type == ast.TypeArray || !isArray):
		values = []evaluator.Value{v}
	case !isArray:
		return nil, evaluator.TypeErrorf("script declares %d outputs but returned %s", len(outs), evaluator.TypeName(v))
	default:
		values = elems
		if len(values) != len(outs) {
			return nil, &evaluator.RuntimeError{
				Code:    diagnostics.EType,
				Message: fmt.Sprintf("script declares %d outputs but returned %d values", len(outs), len(values)),
				Hint:    "return one value per OUTPUT name",
			}
		}
	}

	row := make(evaluator.Row, len(outs))
	for i, o := range outs {
		fv, err := finish(values[i], o.Type)
		if err != nil {
			return nil, fmt.Errorf("output '%s': %w", o.Name, err)
		}
		row[o.Name] = fv
	}
	return row, nil
}

// ExecuteAll runs every row in order and returns the emitted output rows.
// exit ends the run without error. The row limit of the budget ends the
// run early; ctx and the budget timeout are checked between rows.
func (in *Interpreter) ExecuteAll(ctx context.Context, rows []evaluator.Row) ([]evaluator.Row, error) {
	i := 0
	return in.Stream(ctx, sourceFunc(func() (evaluator.Row, error) {
		if i >= len(rows) {
			return nil, io.EOF
		}
		i++
		return rows[i-1], nil
	}), nil)
}

type sourceFunc func() (evaluator.Row, error)

func (f sourceFunc) Next() (evaluator.Row, error) { return f() }

// Stream runs rows from src until it is exhausted. Each emitted row is
// passed to sink when it is not nil; otherwise emitted rows are collected
// and returned. A run that fails returns no rows, though rows already
// handed to sink stay written.
func (in *Interpreter) Stream(ctx context.Context, src RowSource, sink func(evaluator.Row) error) ([]evaluator.Row, error) {
	budget := in.prog.rt.budget
	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	start := time.Now()
	in.logger.Info().Str("script", in.prog.script.Span.File).Msg("run started")
	in.emit(evaluator.TraceRunStart, map[string]any{"columns": in.prog.columns})

	var out []evaluator.Row
	err := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if budget.MaxRows > 0 && in.stats.Rows >= budget.MaxRows {
				in.logger.Debug().Int("max_rows", budget.MaxRows).Msg("row limit reached")
				return nil
			}
			row, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read row %d: %w", in.index, err)
			}
			res, err := in.ExecuteOne(row)
			if errors.Is(err, ErrHalted) {
				return nil
			}
			if err != nil {
				return err
			}
			if res == nil {
				continue
			}
			if sink == nil {
				out = append(out, res)
			} else if err := sink(res); err != nil {
				return fmt.Errorf("write row %d: %w", in.index-1, err)
			}
		}
	}()

	in.emit(evaluator.TraceRunEnd, map[string]any{"rows": in.stats.Rows, "emitted": in.stats.Emitted, "recovered": in.stats.Recovered})
	event := in.logger.Info()
	if err != nil {
		event = in.logger.Error().Err(err)
	}
	event.Int("rows", in.stats.Rows).Int("emitted", in.stats.Emitted).Int("recovered", in.stats.Recovered).
		Dur("elapsed", time.Since(start)).Msg("run finished")
	if err != nil {
		return nil, err
	}
	return out, nil
}
