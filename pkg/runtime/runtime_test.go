package runtime_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

func num(f float64) evaluator.Value { return evaluator.Number{Value: f} }

func mustCompile(t *testing.T, rt *runtime.Runtime, src string) *runtime.Program {
	t.Helper()
	prog, err := rt.Compile(src, "test.dp")
	require.NoError(t, err)
	return prog
}

func mustRun(t *testing.T, src string, rows []evaluator.Row, opts ...runtime.Option) []evaluator.Row {
	t.Helper()
	prog := mustCompile(t, runtime.New(opts...), src)
	out, err := prog.NewInstance().ExecuteAll(context.Background(), rows)
	require.NoError(t, err)
	return out
}

type rowSource func() (evaluator.Row, error)

func (f rowSource) Next() (evaluator.Row, error) { return f() }

func xs(vals ...float64) []evaluator.Row {
	rows := make([]evaluator.Row, len(vals))
	for i, v := range vals {
		rows[i] = evaluator.Row{"x": num(v)}
	}
	return rows
}

func expectDiag(t *testing.T, err error, code string) diagnostics.Diagnostic {
	t.Helper()
	var de *runtime.DiagnosticError
	require.True(t, errors.As(err, &de), "expected *DiagnosticError, got %T: %v", err, err)
	for _, d := range de.Diagnostics {
		if d.Code == code {
			return d
		}
	}
	t.Fatalf("expected diagnostic %s, got %v", code, de.Diagnostics)
	return diagnostics.Diagnostic{}
}

func TestCompileErrors(t *testing.T) {
	rt := runtime.New()

	_, err := rt.Compile("x = 1 +\n", "bad.dp")
	var de *runtime.DiagnosticError
	require.True(t, errors.As(err, &de))
	require.Len(t, de.Diagnostics, 1)
	require.NotNil(t, de.Diagnostics[0].Span)
	assert.Equal(t, "bad.dp", de.Diagnostics[0].Span.File)

	_, err = rt.Compile("return [y]\n", "undef.dp")
	d := expectDiag(t, err, diagnostics.EUndefined)
	assert.Contains(t, d.Message, "'y'")

	_, err = rt.Compile("package p\nx = 1\n", "p.dp")
	expectDiag(t, err, diagnostics.EPackage)
}

func TestCompileKeepsWarnings(t *testing.T) {
	prog := mustCompile(t, runtime.New(), "unused = 1\nreturn [2]\n")
	require.Len(t, prog.Warnings(), 1)
	assert.Equal(t, diagnostics.WUnused, prog.Warnings()[0].Code)
}

func TestHistoryAcrossRows(t *testing.T) {
	src := `-- INPUT close:number --
-- OUTPUT prev:number, third:number, fifth:number, recent:array --
return [close[-1], close[-3], close[-5], close[-2:0]]
`
	rows := []evaluator.Row{{"close": num(10)}, {"close": num(20)}, {"close": num(30)}, {"close": num(40)}}
	out := mustRun(t, src, rows)
	require.Len(t, out, 4)

	assert.Equal(t, evaluator.Null{}, out[0]["prev"])
	last := out[3]
	assert.Equal(t, num(30), last["prev"])
	assert.Equal(t, num(10), last["third"])
	assert.Equal(t, evaluator.Null{}, last["fifth"])
	assert.Equal(t, evaluator.Array{Items: []evaluator.Value{num(20), num(30), num(40)}}, last["recent"])
}

func TestTopLevelArraysIndexAsValues(t *testing.T) {
	src := `-- INPUT close:number --
-- OUTPUT first:number, second:number, last:number --
w = close[-2:0]
arr = [close, close + 1, close + 2]
return [w[0], w[1], arr[-1]]
`
	rows := []evaluator.Row{{"close": num(1)}, {"close": num(5)}, {"close": num(9)}}
	out := mustRun(t, src, rows)
	require.Len(t, out, 3)

	assert.Equal(t, evaluator.Null{}, out[1]["first"])
	assert.Equal(t, num(1), out[1]["second"])
	assert.Equal(t, num(7), out[1]["last"])
	assert.Equal(t, num(1), out[2]["first"])
	assert.Equal(t, num(5), out[2]["second"])
	assert.Equal(t, num(11), out[2]["last"])
}

func TestHistoryFunctionsTakeColumnNames(t *testing.T) {
	src := `-- INPUT close:number --
-- OUTPUT prev:number --
col = "close"
return ref(col, 1)
`
	rows := []evaluator.Row{{"close": num(10)}, {"close": num(20)}}
	out := mustRun(t, src, rows)
	assert.Equal(t, evaluator.Null{}, out[0]["prev"])
	assert.Equal(t, num(10), out[1]["prev"])

	shadowed := `-- INPUT close:number --
-- OUTPUT prev:number --
lag(close):
    return ref(close, 1)
return lag(5)
`
	prog := mustCompile(t, runtime.New(), shadowed)
	_, err := prog.NewInstance().ExecuteOne(evaluator.Row{"close": num(10)})
	var re *evaluator.RuntimeError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, diagnostics.EType, re.Code)
	assert.Contains(t, re.Message, "column name")
}

func TestWindowEviction(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT back1:number, back2:number, back4:number --
return [x[-1], x[-2], x[-4]]
`
	out := mustRun(t, src, xs(1, 2, 3, 4, 5), runtime.WithWindow(3))
	last := out[4]
	assert.Equal(t, num(4), last["back1"])
	assert.Equal(t, num(3), last["back2"])
	assert.Equal(t, evaluator.Null{}, last["back4"])
}

func TestErrorBlockResumesRun(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT result:number --
-- ERROR --
return [0]
-- ERROR_END --
result = 10 / x
return [result]
`
	var logs bytes.Buffer
	prog := mustCompile(t, runtime.New(runtime.WithLogger(zerolog.New(&logs))), src)
	in := prog.NewInstance()
	out, err := in.ExecuteAll(context.Background(), xs(2, 0, 5))
	require.NoError(t, err)

	got := make([]evaluator.Value, len(out))
	for i, row := range out {
		got[i] = row["result"]
	}
	assert.Equal(t, []evaluator.Value{num(5), num(0), num(2)}, got)
	assert.Equal(t, runtime.Stats{Rows: 3, Emitted: 3, Recovered: 1}, in.Stats())
	assert.Contains(t, logs.String(), `"kind":"ZeroDivision"`)
	assert.Contains(t, logs.String(), `"run finished"`)
}

func TestOutputMismatchUsesErrorBlock(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT a:number, b:number --
-- ERROR --
return [-1, -1]
-- ERROR_END --
if x > 1:
    return [x]
return [x, x]
`
	prog := mustCompile(t, runtime.New(), src)
	in := prog.NewInstance()
	out, err := in.ExecuteAll(context.Background(), xs(1, 2, 3))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, num(-1), out[1]["a"])
	assert.Equal(t, num(-1), out[1]["b"])
	assert.Equal(t, num(3), out[2]["a"])
	assert.Equal(t, 1, in.Stats().Recovered)
	assert.False(t, in.Halted())

	badHandler := `-- INPUT x:number --
-- OUTPUT a:number, b:number --
-- ERROR --
return [0]
-- ERROR_END --
return [x]
`
	in = mustCompile(t, runtime.New(), badHandler).NewInstance()
	_, err = in.ExecuteOne(evaluator.Row{"x": num(1)})
	var re *evaluator.RuntimeError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, diagnostics.EType, re.Code)
	assert.True(t, in.Halted())
}

func TestErrorWithoutHandlerAbortsRun(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT y:number --
return [10 / x]
`
	prog := mustCompile(t, runtime.New(), src)
	in := prog.NewInstance()
	out, err := in.ExecuteAll(context.Background(), xs(1, 0, 2))
	require.Error(t, err)
	assert.Nil(t, out)

	var re *evaluator.RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, diagnostics.EZeroDivision, re.Code)
	assert.True(t, in.Halted())

	_, err = in.ExecuteOne(evaluator.Row{"x": num(3)})
	assert.ErrorIs(t, err, runtime.ErrHalted)
}

func TestExitStopsRun(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT y:number --
-- ERROR --
exit
-- ERROR_END --
return [10 / x]
`
	out := mustRun(t, src, xs(5, 0, 2))
	require.Len(t, out, 1)
	assert.Equal(t, num(2), out[0]["y"])
}

func TestRowsWithoutReturnAreSkipped(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT y:number --
if x > 1:
    return [x]
`
	prog := mustCompile(t, runtime.New(), src)
	in := prog.NewInstance()
	out, err := in.ExecuteAll(context.Background(), xs(1, 2, 0, 3))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, num(2), out[0]["y"])
	assert.Equal(t, num(3), out[1]["y"])
	assert.Equal(t, 4, in.History().Rows(), "skipped rows still commit history")
}

func TestOutputMapping(t *testing.T) {
	t.Run("scalar single output", func(t *testing.T) {
		out := mustRun(t, "-- INPUT x:number --\n-- OUTPUT y:number --\nreturn x * 2\n", xs(4))
		assert.Equal(t, num(8), out[0]["y"])
	})
	t.Run("array typed single output", func(t *testing.T) {
		out := mustRun(t, "-- INPUT x:number --\n-- OUTPUT all:array --\nreturn [x, x]\n", xs(4))
		assert.Equal(t, evaluator.Array{Items: []evaluator.Value{num(4), num(4)}}, out[0]["all"])
	})
	t.Run("no outputs declared", func(t *testing.T) {
		out := mustRun(t, "return [1, 2]\n", []evaluator.Row{{}})
		assert.Equal(t, evaluator.Array{Items: []evaluator.Value{num(1), num(2)}}, out[0][runtime.ResultField])
	})
	t.Run("arity mismatch", func(t *testing.T) {
		prog := mustCompile(t, runtime.New(), "-- OUTPUT a:number, b:number --\nreturn [1]\n")
		_, err := prog.NewInstance().ExecuteOne(evaluator.Row{})
		var re *evaluator.RuntimeError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, diagnostics.EType, re.Code)
	})
	t.Run("slices are materialized", func(t *testing.T) {
		out := mustRun(t, "-- INPUT x:number --\n-- OUTPUT w:array --\nreturn x[-1:0]\n", xs(1, 2))
		_, isArray := out[1]["w"].(evaluator.Array)
		assert.True(t, isArray)
	})
}

func TestPrecisionRoundsDecimals(t *testing.T) {
	src := `-- INPUT price:decimal --
-- OUTPUT half:decimal, raw:number --
-- PRECISION 2 --
return [price / 2, 1.23456]
`
	out := mustRun(t, src, []evaluator.Row{{"price": evaluator.String{Value: "4.69"}}})
	assert.Equal(t, "2.34", out[0]["half"].(evaluator.Decimal).Value.String())
	assert.Equal(t, num(1.23456), out[0]["raw"])
}

func TestInputCoercionErrorUsesErrorBlock(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT kind:string --
-- ERROR --
return [_error.kind]
-- ERROR_END --
return ["ok"]
`
	out := mustRun(t, src, []evaluator.Row{{"x": evaluator.String{Value: "abc"}}, {"x": num(1)}})
	assert.Equal(t, evaluator.String{Value: "TypeError"}, out[0]["kind"])
	assert.Equal(t, evaluator.String{Value: "ok"}, out[1]["kind"])
}

func TestMissingInputIsNull(t *testing.T) {
	out := mustRun(t, "-- INPUT x:number --\n-- OUTPUT isnull:bool --\nreturn [x == null]\n", []evaluator.Row{{}})
	assert.Equal(t, evaluator.Bool{Value: true}, out[0]["isnull"])
}

func TestIndexVariable(t *testing.T) {
	out := mustRun(t, "-- INPUT x:number --\n-- OUTPUT i:number --\nreturn [_index]\n", xs(7, 8, 9))
	assert.Equal(t, num(2), out[2]["i"])
}

func TestRerunIsDeterministic(t *testing.T) {
	src := `-- INPUT x:number --
-- OUTPUT ma:number, trend:array --
ma = SMA(x[-2:0], 3)
return [ma, x[-1:0] |> map(v -> v * 2)]
`
	prog := mustCompile(t, runtime.New(), src)
	rows := xs(3, 1, 4, 1, 5, 9, 2, 6)

	encode := func() []byte {
		out, err := prog.NewInstance().ExecuteAll(context.Background(), rows)
		require.NoError(t, err)
		var buf bytes.Buffer
		for _, row := range out {
			b, err := evaluator.RowToJSON(row)
			require.NoError(t, err)
			buf.Write(b)
			buf.WriteByte('\n')
		}
		return buf.Bytes()
	}
	assert.Equal(t, encode(), encode())
}

func TestBudgetMaxRows(t *testing.T) {
	rt := runtime.New(runtime.WithBudget(runtime.Budget{MaxRows: 2}))
	prog := mustCompile(t, rt, "-- INPUT x:number --\n-- OUTPUT y:number --\nreturn [x]\n")
	out, err := prog.NewInstance().ExecuteAll(context.Background(), xs(1, 2, 3))
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestContextCancelled(t *testing.T) {
	prog := mustCompile(t, runtime.New(), "-- INPUT x:number --\n-- OUTPUT y:number --\nreturn [x]\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := prog.NewInstance().ExecuteAll(ctx, xs(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBudgetTimeout(t *testing.T) {
	rt := runtime.New(runtime.WithBudget(runtime.Budget{Timeout: time.Nanosecond}))
	prog := mustCompile(t, rt, "-- INPUT x:number --\n-- OUTPUT y:number --\nreturn [x]\n")
	_, err := prog.NewInstance().ExecuteAll(context.Background(), xs(1, 2, 3))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamSink(t *testing.T) {
	prog := mustCompile(t, runtime.New(), "-- INPUT x:number --\n-- OUTPUT y:number --\nreturn [x + 1]\n")
	rows := xs(1, 2)
	i := 0
	src := rowSource(func() (evaluator.Row, error) {
		if i == len(rows) {
			return nil, io.EOF
		}
		i++
		return rows[i-1], nil
	})
	var got []evaluator.Value
	out, err := prog.NewInstance().Stream(context.Background(), src, func(r evaluator.Row) error {
		got = append(got, r["y"])
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, []evaluator.Value{num(2), num(3)}, got)
}

func TestPackagesAreLinked(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fx.dp"), []byte(`package fx
rate = 2
_hidden = 3
scale(v):
    return v * rate
`), 0o644))

	src := `-- INPUT x:number --
-- OUTPUT y:number, r:number --
-- IMPORT fx --
return [fx.scale(x), fx.rate]
`
	var events []evaluator.TraceEvent
	out := mustRun(t, src, xs(5), runtime.WithPackagePaths(dir), runtime.WithTrace(func(e evaluator.TraceEvent) {
		events = append(events, e)
	}))
	assert.Equal(t, num(10), out[0]["y"])
	assert.Equal(t, num(2), out[0]["r"])
	loads := 0
	for _, e := range events {
		if e.Event == evaluator.TracePackageLoad {
			loads++
			assert.Equal(t, "fx", e.Data["package"])
		}
	}
	assert.Equal(t, 1, loads)

	_, err := runtime.New(runtime.WithPackagePaths(dir)).Compile("-- IMPORT fx --\nreturn [fx._hidden]\n", "t.dp")
	expectDiag(t, err, diagnostics.EUndefined)

	_, err = runtime.New(runtime.WithPackagePaths(dir)).Compile("-- IMPORT nope --\nreturn [1]\n", "t.dp")
	expectDiag(t, err, diagnostics.EPackage)
}

func TestTraceRunEvents(t *testing.T) {
	var kinds []evaluator.TraceEventType
	rt := runtime.New(runtime.WithRunID("run-1"), runtime.WithTrace(func(e evaluator.TraceEvent) {
		assert.Equal(t, "run-1", e.RunID)
		if e.Event != evaluator.TraceStmtStart {
			kinds = append(kinds, e.Event)
		}
	}))
	prog := mustCompile(t, rt, "-- INPUT x:number --\n-- OUTPUT y:number --\nreturn [x]\n")
	_, err := prog.NewInstance().ExecuteAll(context.Background(), xs(1))
	require.NoError(t, err)
	assert.Equal(t, []evaluator.TraceEventType{
		evaluator.TraceRunStart, evaluator.TraceRowStart, evaluator.TraceRowEnd, evaluator.TraceRunEnd,
	}, kinds)
}

func TestRunPartitioned(t *testing.T) {
	src := `-- INPUT id:string, x:number --
-- OUTPUT total:number --
prev = total[-1]
total = prev == null ? x : prev + x
return [total]
`
	prog := mustCompile(t, runtime.New(), src)
	rows := []evaluator.Row{
		{"id": evaluator.String{Value: "a"}, "x": num(1)},
		{"id": evaluator.String{Value: "b"}, "x": num(10)},
		{"id": evaluator.String{Value: "a"}, "x": num(2)},
		{"id": evaluator.String{Value: "b"}, "x": num(20)},
		{"id": evaluator.String{Value: "a"}, "x": num(3)},
	}
	out, err := runtime.RunPartitioned(context.Background(), prog, rows, "id", 2)
	require.NoError(t, err)
	require.Len(t, out, 5)

	var totals []evaluator.Value
	for _, row := range out {
		totals = append(totals, row["total"])
	}
	assert.Equal(t, []evaluator.Value{num(1), num(10), num(3), num(30), num(6)}, totals)
	assert.Equal(t, evaluator.String{Value: "b"}, out[1]["id"])
}

func TestRunPartitionedKeysByType(t *testing.T) {
	src := `-- INPUT id, x:number --
-- OUTPUT total:number --
total = coalesce(total[-1], 0) + x
return [total]
`
	prog := mustCompile(t, runtime.New(), src)
	rows := []evaluator.Row{
		{"id": num(1), "x": num(1)},
		{"id": evaluator.String{Value: "1"}, "x": num(10)},
		{"id": num(1), "x": num(2)},
	}
	out, err := runtime.RunPartitioned(context.Background(), prog, rows, "id", 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, num(1), out[0]["total"])
	assert.Equal(t, num(10), out[1]["total"])
	assert.Equal(t, num(3), out[2]["total"])
}

func TestRunPartitionedFailure(t *testing.T) {
	prog := mustCompile(t, runtime.New(), "-- INPUT id:string, x:number --\n-- OUTPUT y:number --\nreturn [1 / x]\n")
	rows := []evaluator.Row{
		{"id": evaluator.String{Value: "a"}, "x": num(1)},
		{"id": evaluator.String{Value: "b"}, "x": num(0)},
	}
	_, err := runtime.RunPartitioned(context.Background(), prog, rows, "id", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition id=b")
}

func TestCheckAndFormat(t *testing.T) {
	rt := runtime.New()
	diags := rt.Check("x = 1\nreturn [z]\n", "c.dp")
	assert.True(t, diagnostics.HasErrors(diags))

	formatted, err := rt.Format("return [1+2]\n", "f.dp")
	require.NoError(t, err)
	assert.Equal(t, "return [1 + 2]\n", formatted)

	_, err = rt.Format("return [\n", "f.dp")
	assert.Error(t, err)
}
