// Package history implements the bounded per-column history store that
// backs offset (close[-1]) and slice (close[-5:0]) access.
//
// Storage is column-major: every tracked column owns a ring of
// capacity+1 slots, capacity committed rows plus one staging slot for the
// row being computed. Slices are views over the column itself and never
// copy elements.
package history

import (
	"sort"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// DefaultCapacity is the number of committed rows retained per column.
const DefaultCapacity = 1000

// Store holds the history of one interpreter instance. It is not safe for
// concurrent use; parallel runs give every instance its own Store.
type Store struct {
	capacity int
	rows     int // rows committed so far
	columns  map[string]*column
}

var _ evaluator.History = (*Store)(nil)

// column is the ring buffer of one tracked name. It implements
// evaluator.Sequence over absolute row numbers.
type column struct {
	store  *Store
	slots  []evaluator.Value
	staged bool
}

// New creates a store retaining capacity rows of each named column. A
// capacity below 1 selects DefaultCapacity.
func New(capacity int, names ...string) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	s := &Store{capacity: capacity, columns: make(map[string]*column)}
	s.Track(names...)
	return s
}

// Track adds columns. Columns added after rows were committed read Null
// for those rows.
func (s *Store) Track(names ...string) {
	for _, name := range names {
		if _, ok := s.columns[name]; ok {
			continue
		}
		slots := make([]evaluator.Value, s.capacity+1)
		for i := range slots {
			slots[i] = evaluator.Null{}
		}
		s.columns[name] = &column{store: s, slots: slots}
	}
}

// Tracked reports whether name is a history column.
func (s *Store) Tracked(name string) bool {
	_, ok := s.columns[name]
	return ok
}

// Columns returns the tracked column names, sorted.
func (s *Store) Columns() []string {
	names := make([]string, 0, len(s.columns))
	for name := range s.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capacity returns the number of committed rows retained per column.
func (s *Store) Capacity() int { return s.capacity }

// Rows returns the number of rows committed so far, evicted ones included.
func (s *Store) Rows() int { return s.rows }

// Len returns the number of committed rows still retained.
func (s *Store) Len() int { return min(s.rows, s.capacity) }

// Earliest returns the offset of the oldest retained row relative to the
// current row, e.g. -3 after three commits.
func (s *Store) Earliest() int { return -s.Len() }

func (s *Store) slot(abs int) int { return abs % (s.capacity + 1) }

// Stage records the current row's value of name so that offset 0 and
// slices ending at 0 include it before the row is committed.
func (s *Store) Stage(name string, v evaluator.Value) {
	col, ok := s.columns[name]
	if !ok {
		return
	}
	col.slots[s.slot(s.rows)] = v
	col.staged = true
}

// CommitRow appends one row. Tracked columns missing from values keep
// their staged value, or Null. ArraySlice values are materialized so the
// committed row never aliases the ring.
func (s *Store) CommitRow(values map[string]evaluator.Value) {
	idx := s.slot(s.rows)
	// Resolve every value before writing: a slice may read another
	// column's staged value.
	resolved := make(map[string]evaluator.Value, len(s.columns))
	for name, col := range s.columns {
		var v evaluator.Value = evaluator.Null{}
		if given, ok := values[name]; ok {
			v = evaluator.Materialize(given)
		} else if col.staged {
			v = evaluator.Materialize(col.slots[idx])
		}
		if v == nil {
			v = evaluator.Null{}
		}
		resolved[name] = v
	}
	for name, col := range s.columns {
		col.slots[idx] = resolved[name]
		col.staged = false
	}
	s.rows++
}

// GetOffset returns the value of name n rows before the current row
// (n <= 0). Rows that were never committed or were evicted read Null.
func (s *Store) GetOffset(name string, n int) evaluator.Value {
	col, ok := s.columns[name]
	if !ok || n > 0 {
		return evaluator.Null{}
	}
	return col.At(s.rows + n)
}

// GetSlice returns the inclusive range [start, end] of offsets as a view
// of end-start+1 elements. Positions without a retained row read Null.
func (s *Store) GetSlice(name string, start, end int) evaluator.Value {
	if start > end {
		return evaluator.Array{Items: []evaluator.Value{}}
	}
	view := evaluator.ArraySlice{Start: s.rows + start, Length: end - start + 1}
	if col, ok := s.columns[name]; ok {
		view.Backing = col
	}
	return view
}

// Reset drops every committed row but keeps the tracked columns.
func (s *Store) Reset() {
	for _, col := range s.columns {
		for i := range col.slots {
			col.slots[i] = evaluator.Null{}
		}
		col.staged = false
	}
	s.rows = 0
}

// At returns the value of absolute row abs. The current row is readable
// only once staged.
func (c *column) At(abs int) evaluator.Value {
	s := c.store
	switch {
	case abs < 0 || abs > s.rows:
		return evaluator.Null{}
	case abs == s.rows:
		if !c.staged {
			return evaluator.Null{}
		}
	case abs < s.rows-s.Len():
		return evaluator.Null{}
	}
	return c.slots[s.slot(abs)]
}
