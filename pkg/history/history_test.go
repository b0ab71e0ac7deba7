package history_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/history"
)

func num(f float64) evaluator.Value { return evaluator.Number{Value: f} }

func row(name string, f float64) map[string]evaluator.Value {
	return map[string]evaluator.Value{name: num(f)}
}

func elements(t *testing.T, v evaluator.Value) []evaluator.Value {
	t.Helper()
	items, ok := evaluator.Elements(v)
	require.True(t, ok, "expected an array, got %s", evaluator.TypeName(v))
	return items
}

func TestNewDefaultsCapacity(t *testing.T) {
	s := history.New(0, "close")
	assert.Equal(t, history.DefaultCapacity, s.Capacity())
	assert.True(t, s.Tracked("close"))
	assert.False(t, s.Tracked("open"))
}

func TestOffsetAndSlice(t *testing.T) {
	s := history.New(100, "close")

	// First row: no history yet.
	s.Stage("close", num(10))
	assert.Equal(t, evaluator.Null{}, s.GetOffset("close", -1))
	assert.Equal(t, num(10), s.GetOffset("close", 0))
	s.CommitRow(row("close", 10))

	s.CommitRow(row("close", 20))
	s.CommitRow(row("close", 30))

	// Row where close = 40.
	s.Stage("close", num(40))
	assert.Equal(t, num(30), s.GetOffset("close", -1))
	assert.Equal(t, num(10), s.GetOffset("close", -3))
	assert.Equal(t, evaluator.Null{}, s.GetOffset("close", -5))
	assert.Equal(t, []evaluator.Value{num(20), num(30), num(40)}, elements(t, s.GetSlice("close", -2, 0)))
}

func TestSliceIsNullPadded(t *testing.T) {
	s := history.New(10, "x")
	s.CommitRow(row("x", 1))
	s.CommitRow(row("x", 2))

	got := elements(t, s.GetSlice("x", -4, -1))
	assert.Equal(t, []evaluator.Value{evaluator.Null{}, evaluator.Null{}, num(1), num(2)}, got)
}

func TestSliceIsAView(t *testing.T) {
	s := history.New(10, "x")
	s.CommitRow(row("x", 1))
	s.CommitRow(row("x", 2))

	v := s.GetSlice("x", -2, -1)
	view, ok := v.(evaluator.ArraySlice)
	require.True(t, ok)
	assert.Equal(t, 2, view.Len())
	assert.NotNil(t, view.Backing)
}

func TestEmptySliceWhenStartAfterEnd(t *testing.T) {
	s := history.New(10, "x")
	assert.Empty(t, elements(t, s.GetSlice("x", -1, -3)))
}

func TestWindowEviction(t *testing.T) {
	s := history.New(3, "col")
	for i := 1; i <= 5; i++ {
		s.CommitRow(row("col", float64(i)))
	}

	assert.Equal(t, 5, s.Rows())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, -3, s.Earliest())
	assert.Equal(t, num(5), s.GetOffset("col", -1))
	assert.Equal(t, num(4), s.GetOffset("col", -2))
	assert.Equal(t, num(3), s.GetOffset("col", -3))
	assert.Equal(t, evaluator.Null{}, s.GetOffset("col", -4))
}

func TestStagingSlotDoesNotLeakEvictedRows(t *testing.T) {
	s := history.New(2, "x")
	s.CommitRow(row("x", 1))
	s.CommitRow(row("x", 2))
	s.CommitRow(row("x", 3))

	// The staging slot reuses the ring position of an evicted row.
	assert.Equal(t, evaluator.Null{}, s.GetOffset("x", 0))
}

func TestCommitUsesStagedValue(t *testing.T) {
	s := history.New(5, "x", "y")
	s.Stage("x", num(7))
	s.CommitRow(map[string]evaluator.Value{})

	assert.Equal(t, num(7), s.GetOffset("x", -1))
	assert.Equal(t, evaluator.Null{}, s.GetOffset("y", -1))
}

func TestCommitMaterializesSlices(t *testing.T) {
	s := history.New(5, "x", "w")
	s.CommitRow(map[string]evaluator.Value{"x": num(1)})
	s.Stage("x", num(2))
	window := s.GetSlice("x", -1, 0)
	s.CommitRow(map[string]evaluator.Value{"x": num(2), "w": window})

	got := s.GetOffset("w", -1)
	arr, ok := got.(evaluator.Array)
	require.True(t, ok, "committed slices are owned arrays")
	assert.Equal(t, []evaluator.Value{num(1), num(2)}, arr.Items)
}

func TestUnknownColumn(t *testing.T) {
	s := history.New(5, "x")
	s.CommitRow(row("x", 1))
	assert.Equal(t, evaluator.Null{}, s.GetOffset("nope", -1))
	assert.Equal(t, []evaluator.Value{evaluator.Null{}}, elements(t, s.GetSlice("nope", -1, -1)))
}

func TestReset(t *testing.T) {
	s := history.New(5, "x")
	s.CommitRow(row("x", 1))
	s.Reset()
	assert.Equal(t, 0, s.Rows())
	assert.Equal(t, evaluator.Null{}, s.GetOffset("x", -1))
	assert.Equal(t, []string{"x"}, s.Columns())
}
