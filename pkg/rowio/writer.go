package rowio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// Writer is a row sink. Close flushes buffered output and finishes the
// document; it does not close the underlying io.Writer.
type Writer interface {
	Write(row evaluator.Row) error
	Close() error
}

// NewWriter returns a writer encoding rows in the given format.
func NewWriter(w io.Writer, format Format) (Writer, error) {
	switch format {
	case CSV:
		return NewCSVWriter(w, nil), nil
	case JSON:
		return NewJSONWriter(w, false), nil
	case NDJSON:
		return NewJSONWriter(w, true), nil
	}
	return nil, fmt.Errorf("unknown row format %q", format)
}

// SortedColumns returns the keys of row in sorted order.
func SortedColumns(row evaluator.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// CSVWriter writes rows as CSV. Without explicit columns the header is the
// sorted key set of the first row. Arrays are written as JSON text; Null
// is an empty cell.
type CSVWriter struct {
	w       *csv.Writer
	columns []string
	started bool
}

// NewCSVWriter creates a CSV writer. columns may be nil.
func NewCSVWriter(w io.Writer, columns []string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), columns: columns}
}

func (c *CSVWriter) Write(row evaluator.Row) error {
	if !c.started {
		c.started = true
		if c.columns == nil {
			c.columns = SortedColumns(row)
		}
		if err := c.w.Write(c.columns); err != nil {
			return err
		}
	}
	record := make([]string, len(c.columns))
	for i, col := range c.columns {
		record[i] = Cell(row[col])
	}
	return c.w.Write(record)
}

func (c *CSVWriter) Close() error {
	if !c.started && c.columns != nil {
		if err := c.w.Write(c.columns); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Cell renders a value as CSV cell text.
func Cell(v evaluator.Value) string {
	switch val := v.(type) {
	case nil, evaluator.Null:
		return ""
	case evaluator.String:
		return val.Value
	case evaluator.Array, evaluator.ArraySlice:
		return evaluator.ValueToJSONString(val)
	}
	return evaluator.FormatValue(v)
}

// JSONWriter writes rows as a JSON array, or one object per line when
// lines is set. Object keys are sorted.
type JSONWriter struct {
	w       *bufio.Writer
	lines   bool
	written int
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, lines bool) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w), lines: lines}
}

func (j *JSONWriter) Write(row evaluator.Row) error {
	b, err := evaluator.RowToJSON(row)
	if err != nil {
		return err
	}
	switch {
	case j.lines:
	case j.written == 0:
		j.w.WriteByte('[')
	default:
		j.w.WriteByte(',')
	}
	j.w.Write(b)
	if j.lines {
		j.w.WriteByte('\n')
	}
	j.written++
	return nil
}

func (j *JSONWriter) Close() error {
	if !j.lines {
		if j.written == 0 {
			j.w.WriteByte('[')
		}
		j.w.WriteString("]\n")
	}
	return j.w.Flush()
}
