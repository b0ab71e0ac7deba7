package rowio_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/rowio"
)

func num(f float64) evaluator.Value { return evaluator.Number{Value: f} }
func str(s string) evaluator.Value  { return evaluator.String{Value: s} }

func TestInfer(t *testing.T) {
	tests := []struct {
		in   string
		want evaluator.Value
	}{
		{"42", num(42)},
		{" -1.5 ", num(-1.5)},
		{"1e3", num(1000)},
		{"true", evaluator.Bool{Value: true}},
		{"FALSE", evaluator.Bool{Value: false}},
		{"", evaluator.Null{}},
		{"null", evaluator.Null{}},
		{"NaN", str("NaN")},
		{"Inf", str("Inf")},
		{"0x10", str("0x10")},
		{"AAPL", str("AAPL")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rowio.Infer(tt.in), "Infer(%q)", tt.in)
	}
}

func TestReadCSV(t *testing.T) {
	src := "symbol,close,active\nAAPL,10.5,true\n\"B, Inc\",,false\nC,3\n"
	rows, err := rowio.ReadCSV(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, evaluator.Row{"symbol": str("AAPL"), "close": num(10.5), "active": evaluator.Bool{Value: true}}, rows[0])
	assert.Equal(t, str("B, Inc"), rows[1]["symbol"])
	assert.Equal(t, evaluator.Null{}, rows[1]["close"])
	assert.Equal(t, evaluator.Null{}, rows[2]["active"], "missing trailing cells read null")
}

func TestReadCSVStripsByteOrderMark(t *testing.T) {
	rows, err := rowio.ReadCSV(strings.NewReader("\uFEFFclose,volume\n10,200\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, evaluator.Row{"close": num(10), "volume": num(200)}, rows[0])
}

func TestReadCSVTooManyFields(t *testing.T) {
	_, err := rowio.ReadCSV(strings.NewReader("a\n1,2\n"))
	assert.ErrorContains(t, err, "has 2 fields")
}

func TestReadCSVEmpty(t *testing.T) {
	rows, err := rowio.ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadJSONArray(t *testing.T) {
	rows, err := rowio.ReadJSON(strings.NewReader(` [ {"x": 1, "tags": ["a", 2]}, {"x": null, "y": "s"} ] `))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, num(1), rows[0]["x"])
	assert.Equal(t, evaluator.Array{Items: []evaluator.Value{str("a"), num(2)}}, rows[0]["tags"])
	assert.Equal(t, evaluator.Null{}, rows[1]["x"])
	assert.Equal(t, str("s"), rows[1]["y"])
}

func TestReadNDJSON(t *testing.T) {
	rows, err := rowio.ReadJSON(strings.NewReader("{\"x\": 1}\n{\"x\": 2}\n\n{\"x\": 3}\n"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, num(3), rows[2]["x"])
}

func TestReadJSONErrors(t *testing.T) {
	_, err := rowio.ReadJSON(strings.NewReader(`[{"x": 1}, 5]`))
	assert.ErrorContains(t, err, "json row 2")

	rows, err := rowio.ReadJSON(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFormats(t *testing.T) {
	assert.Equal(t, rowio.JSON, rowio.FormatFromPath("in.JSON"))
	assert.Equal(t, rowio.NDJSON, rowio.FormatFromPath("in.jsonl"))
	assert.Equal(t, rowio.CSV, rowio.FormatFromPath("in.txt"))

	f, err := rowio.ParseFormat("NDJSON")
	require.NoError(t, err)
	assert.Equal(t, rowio.NDJSON, f)
	_, err = rowio.ParseFormat("xml")
	assert.Error(t, err)
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := rowio.NewCSVWriter(&buf, nil)
	require.NoError(t, w.Write(evaluator.Row{"b": str(`say "hi", ok`), "a": num(1.5)}))
	require.NoError(t, w.Write(evaluator.Row{"a": evaluator.Null{}, "b": evaluator.Array{Items: []evaluator.Value{num(1), num(2)}}}))
	require.NoError(t, w.Close())

	assert.Equal(t, "a,b\n1.5,\"say \"\"hi\"\", ok\"\n,\"[1,2]\"\n", buf.String())
}

func TestJSONWriter(t *testing.T) {
	row := evaluator.Row{"b": num(2), "a": evaluator.Decimal{Value: decimal.RequireFromString("1.50")}}

	var arr bytes.Buffer
	w := rowio.NewJSONWriter(&arr, false)
	require.NoError(t, w.Write(row))
	require.NoError(t, w.Write(evaluator.Row{"a": num(3)}))
	require.NoError(t, w.Close())
	assert.Equal(t, "[{\"a\":1.50,\"b\":2},{\"a\":3}]\n", arr.String())

	var lines bytes.Buffer
	w = rowio.NewJSONWriter(&lines, true)
	require.NoError(t, w.Write(row))
	require.NoError(t, w.Close())
	assert.Equal(t, "{\"a\":1.50,\"b\":2}\n", lines.String())

	var empty bytes.Buffer
	require.NoError(t, rowio.NewJSONWriter(&empty, false).Close())
	assert.Equal(t, "[]\n", empty.String())
}

func TestRoundTripThroughCSV(t *testing.T) {
	rows := []evaluator.Row{
		{"close": num(10), "symbol": str("A")},
		{"close": num(11.25), "symbol": str("B")},
	}
	var buf bytes.Buffer
	w, err := rowio.NewWriter(&buf, rowio.CSV)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())

	got, err := rowio.ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.db")
	sink, err := rowio.OpenSQLite(path, "signals")
	require.NoError(t, err)

	require.NoError(t, sink.Write(evaluator.Row{"sym": str("A"), "ma": num(1.5), "buy": evaluator.Bool{Value: true}}))
	require.NoError(t, sink.Write(evaluator.Row{"sym": str("B"), "ma": evaluator.Null{}, "buy": evaluator.Bool{Value: false}}))
	require.NoError(t, sink.Close())

	reopened, err := rowio.OpenSQLite(path, "signals")
	require.NoError(t, err)
	defer reopened.Close()
	db := reopened.DB()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "signals"`).Scan(&count))
	assert.Equal(t, 2, count)

	var ma *float64
	var buy int
	require.NoError(t, db.QueryRow(`SELECT ma, buy FROM "signals" WHERE sym = 'A'`).Scan(&ma, &buy))
	require.NotNil(t, ma)
	assert.Equal(t, 1.5, *ma)
	assert.Equal(t, 1, buy)

	require.NoError(t, db.QueryRow(`SELECT ma FROM "signals" WHERE sym = 'B'`).Scan(&ma))
	assert.Nil(t, ma)
}
