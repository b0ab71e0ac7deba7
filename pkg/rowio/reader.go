// Package rowio reads input rows for DPLang scripts and writes their
// output rows. Sources and sinks are streaming: a reader yields one row at
// a time and a writer emits each row as it arrives.
package rowio

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// Format names a row encoding.
type Format string

const (
	CSV    Format = "csv"
	JSON   Format = "json"
	NDJSON Format = "ndjson"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, NDJSON:
		return f, nil
	case "jsonl":
		return NDJSON, nil
	}
	return "", fmt.Errorf("unknown row format %q (want csv, json or ndjson)", s)
}

// FormatFromPath guesses the format from a file extension; anything
// unrecognised is CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON
	case ".ndjson", ".jsonl":
		return NDJSON
	}
	return CSV
}

// Source yields rows until it returns io.EOF.
type Source interface {
	Next() (evaluator.Row, error)
}

// NewReader returns a source decoding r in the given format. JSON sources
// accept both a top-level array and newline-delimited objects.
func NewReader(r io.Reader, format Format) (Source, error) {
	switch format {
	case CSV:
		return NewCSVReader(r)
	case JSON, NDJSON:
		return NewJSONReader(r), nil
	}
	return nil, fmt.Errorf("unknown row format %q", format)
}

// ReadAll drains src.
func ReadAll(src Source) ([]evaluator.Row, error) {
	var rows []evaluator.Row
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// ReadCSV reads every row of a CSV document with a header line.
func ReadCSV(r io.Reader) ([]evaluator.Row, error) {
	src, err := NewCSVReader(r)
	if err != nil {
		return nil, err
	}
	return ReadAll(src)
}

// ReadJSON reads every row of a JSON array or an NDJSON stream.
func ReadJSON(r io.Reader) ([]evaluator.Row, error) {
	return ReadAll(NewJSONReader(r))
}

// CSVReader decodes a CSV stream whose first record is the header. Cell
// text is typed with Infer.
type CSVReader struct {
	r      *csv.Reader
	header []string
	line   int
}

// NewCSVReader reads the header of r.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	csvr := csv.NewReader(r)
	csvr.Comment = '#'
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	header, err := csvr.Read()
	if errors.Is(err, io.EOF) {
		return &CSVReader{r: csvr}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	return &CSVReader{r: csvr, header: header, line: 1}, nil
}

// Header returns the column names.
func (c *CSVReader) Header() []string { return c.header }

// Next returns the next row. Missing trailing cells are Null; extra cells
// are an error.
func (c *CSVReader) Next() (evaluator.Row, error) {
	if c.header == nil {
		return nil, io.EOF
	}
	record, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv: %w", err)
	}
	c.line++
	if len(record) > len(c.header) {
		return nil, fmt.Errorf("csv record %d has %d fields, header has %d", c.line, len(record), len(c.header))
	}
	row := make(evaluator.Row, len(c.header))
	for i, name := range c.header {
		if i < len(record) {
			row[name] = Infer(record[i])
		} else {
			row[name] = evaluator.Null{}
		}
	}
	return row, nil
}

// Infer types one cell of text: numbers become Number, true and false
// Bool, the empty string and null Null; anything else stays a String.
func Infer(text string) evaluator.Value {
	s := strings.TrimSpace(text)
	switch strings.ToLower(s) {
	case "", "null":
		return evaluator.Null{}
	case "true":
		return evaluator.Bool{Value: true}
	case "false":
		return evaluator.Bool{Value: false}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN") {
		return evaluator.Number{Value: f}
	}
	return evaluator.String{Value: text}
}

// JSONReader decodes rows from a JSON array of objects or from a stream of
// objects separated by whitespace (NDJSON).
type JSONReader struct {
	br      *bufio.Reader
	dec     *json.Decoder
	inArray bool
	done    bool
	n       int
}

// NewJSONReader wraps r.
func NewJSONReader(r io.Reader) *JSONReader {
	return &JSONReader{br: bufio.NewReader(r)}
}

// open looks at the first significant byte to tell an array document from
// an object stream.
func (j *JSONReader) open() error {
	for {
		b, err := j.br.ReadByte()
		if err != nil {
			return err
		}
		if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
			continue
		}
		j.inArray = b == '['
		if err := j.br.UnreadByte(); err != nil {
			return err
		}
		break
	}
	j.dec = json.NewDecoder(j.br)
	j.dec.UseNumber()
	if j.inArray {
		_, err := j.dec.Token()
		return err
	}
	return nil
}

// Next returns the next row.
func (j *JSONReader) Next() (evaluator.Row, error) {
	if j.done {
		return nil, io.EOF
	}
	if j.dec == nil {
		if err := j.open(); err != nil {
			j.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("json rows: %w", err)
		}
	}
	if j.inArray && !j.dec.More() {
		j.done = true
		if _, err := j.dec.Token(); err != nil {
			return nil, fmt.Errorf("json rows: %w", err)
		}
		return nil, io.EOF
	}

	var obj map[string]any
	if err := j.dec.Decode(&obj); err != nil {
		if errors.Is(err, io.EOF) && !j.inArray {
			j.done = true
			return nil, io.EOF
		}
		return nil, fmt.Errorf("json row %d: %w", j.n+1, err)
	}
	j.n++
	row := make(evaluator.Row, len(obj))
	for k, v := range obj {
		row[k] = evaluator.FromAny(v)
	}
	return row, nil
}
