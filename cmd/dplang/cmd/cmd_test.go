package cmd

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/runtime"
)

const changeScript = `-- INPUT close:number --
-- OUTPUT change --
prev = coalesce(close[-1], close)
return close - prev
`

const pricesCSV = "close\n10\n12\n11\n"

// execCLI runs the command tree in-process and returns stdout, stderr and
// the exit code.
func execCLI(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunCSVToJSON(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "change.dp", changeScript)
	input := writeFile(t, dir, "prices.csv", pricesCSV)

	stdout, stderr, code := execCLI(t, "", "run", script, "--input", input)
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, `[{"change":0},{"change":2},{"change":-1}]`+"\n", stdout)
}

func TestRunStdinNDJSONToCSV(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "change.dp", changeScript)
	in := `{"close": 1}` + "\n" + `{"close": 4}` + "\n"

	stdout, stderr, code := execCLI(t, in, "run", script, "--input-format", "ndjson", "--format", "csv")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "change\n0\n3\n", stdout)
}

func TestRunOutputFileAndSQLite(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "change.dp", changeScript)
	input := writeFile(t, dir, "prices.csv", pricesCSV)
	out := filepath.Join(dir, "out.ndjson")
	dbPath := filepath.Join(dir, "db", "results.db")

	_, stderr, code := execCLI(t, "", "run", script, "-i", input, "-o", out, "-f", "ndjson", "--sqlite", dbPath, "--sqlite-table", "changes")
	require.Equal(t, ExitOK, code, stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "{\"change\":0}\n{\"change\":2}\n{\"change\":-1}\n", string(data))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	var sum float64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM("change") FROM "changes"`).Scan(&n, &sum))
	assert.Equal(t, 3, n)
	assert.Equal(t, 1.0, sum)
}

func TestRunFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "change.dp", changeScript)
	writeFile(t, dir, "prices.csv", pricesCSV)
	cfg := writeFile(t, dir, "task.toml", `
[task]
script = "change.dp"
input = "prices.csv"
format = "csv"
max_rows = 2
`)

	stdout, stderr, code := execCLI(t, "", "run", "--config", cfg)
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "change\n0\n2\n", stdout)

	// Flags override the file.
	stdout, stderr, code = execCLI(t, "", "run", "--config", cfg, "--max-rows", "0", "-f", "ndjson")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, 3, strings.Count(stdout, "\n"))
}

func TestRunPartitionBy(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "total.dp", `-- INPUT id:string, x:number --
-- OUTPUT total --
prev = total[-1]
total = prev == null ? x : prev + x
return total
`)
	in := `[{"id":"a","x":1},{"id":"b","x":10},{"id":"a","x":2}]`

	stdout, stderr, code := execCLI(t, in, "run", script, "--input-format", "json", "--partition-by", "id", "--workers", "2")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, `[{"id":"a","total":1},{"id":"b","total":10},{"id":"a","total":3}]`+"\n", stdout)
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()

	t.Run("runtime error", func(t *testing.T) {
		script := writeFile(t, dir, "div.dp", "-- INPUT a, b --\nreturn a / b\n")
		_, stderr, code := execCLI(t, "a,b\n1,0\n", "run", script)
		assert.Equal(t, ExitRuntime, code)
		assert.Contains(t, stderr, "E_ZERO_DIVISION")
	})

	t.Run("compile error", func(t *testing.T) {
		script := writeFile(t, dir, "bad.dp", "return missing + 1\n")
		_, stderr, code := execCLI(t, "", "run", script)
		assert.Equal(t, ExitDiagnostics, code)
		assert.Contains(t, stderr, "E_UNDEFINED")
	})

	t.Run("missing script", func(t *testing.T) {
		_, stderr, code := execCLI(t, "", "run", filepath.Join(dir, "nope.dp"))
		assert.Equal(t, ExitUsage, code)
		assert.Contains(t, stderr, "E_IO")
	})

	t.Run("no script", func(t *testing.T) {
		_, stderr, code := execCLI(t, "", "run")
		assert.Equal(t, ExitUsage, code)
		assert.Contains(t, stderr, "no script given")
	})

	t.Run("bad config", func(t *testing.T) {
		script := writeFile(t, dir, "ok.dp", "return 1\n")
		_, stderr, code := execCLI(t, "", "run", script, "--log-level", "loud")
		assert.Equal(t, ExitUsage, code)
		assert.Contains(t, stderr, "E_CONFIG")
	})

	t.Run("bad output format", func(t *testing.T) {
		script := writeFile(t, dir, "ok.dp", "return 1\n")
		_, stderr, code := execCLI(t, "", "run", script, "-f", "xml")
		assert.Equal(t, ExitUsage, code)
		assert.Contains(t, stderr, "task.format")
	})
}

func TestRunTraceAndSummary(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "change.dp", changeScript)
	input := writeFile(t, dir, "prices.csv", pricesCSV)
	tracePath := filepath.Join(dir, "trace.ndjson")

	_, stderr, code := execCLI(t, "", "run", script, "-i", input, "--trace", tracePath)
	require.Equal(t, ExitOK, code, stderr)

	stdout, stderr, code := execCLI(t, "", "trace", tracePath)
	require.Equal(t, ExitOK, code, stderr)
	var summary TraceSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 3, summary.Emitted)
	assert.Zero(t, summary.Failed)
	assert.Len(t, summary.RunIDs, 1)

	stdout, _, code = execCLI(t, "", "trace", tracePath, "--text")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Rows: 3 (3 emitted, 0 failed, 0 recovered)")
}

func TestSummarizeTraceRecovered(t *testing.T) {
	lines := strings.Join([]string{
		`{"event":"run_start","runId":"r1","ts":"2026-01-02T10:00:00.1Z"}`,
		`{"event":"row_start","runId":"r1","ts":"2026-01-02T10:00:00.2Z","data":{"index":0}}`,
		`{"event":"error_handled","runId":"r1","ts":"2026-01-02T10:00:00.3Z","data":{"kind":"ZeroDivision"}}`,
		`{"event":"row_end","runId":"r1","ts":"2026-01-02T10:00:00.4Z","data":{"index":0,"emitted":true}}`,
		`not json`,
		`{"event":"run_end","runId":"r1","ts":"2026-01-02T10:00:00.12Z"}`,
	}, "\n")
	s, err := summarizeTrace(strings.NewReader(lines))
	require.NoError(t, err)
	assert.Equal(t, 5, s.TotalEvents)
	assert.Equal(t, 1, s.Recovered)
	assert.Equal(t, map[string]int{"ZeroDivision": 1}, s.ErrorsByKind)
	assert.InDelta(t, 20.0, s.DurationMs, 0.001)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()

	stdout, stderr, code := execCLI(t, "", "check", writeFile(t, dir, "ok.dp", changeScript))
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "[]\n", stdout)

	stdout, _, code = execCLI(t, "", "check", "--pretty", writeFile(t, dir, "ok2.dp", changeScript))
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "No errors found.\n", stdout)

	_, stderr, code = execCLI(t, "", "check", writeFile(t, dir, "bad.dp", "x = 1\nx = 2\nreturn x\n"))
	assert.Equal(t, ExitDiagnostics, code)
	assert.Contains(t, stderr, "E_SHADOW")

	// Warnings are printed but do not fail the check.
	stdout, stderr, code = execCLI(t, "", "check", writeFile(t, dir, "warn.dp", "unused = 1\nreturn 2\n"))
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "[]\n", stdout)
	assert.Contains(t, stderr, "W_UNUSED")

	_, stderr, code = execCLI(t, "return 1 +\n", "check", "-")
	assert.Equal(t, ExitDiagnostics, code)
	assert.Contains(t, stderr, "stdin")
}

func TestFmt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.dp", "return [1+2]\n")

	stdout, stderr, code := execCLI(t, "", "fmt", path)
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "return [1 + 2]\n", stdout)

	stdout, _, code = execCLI(t, "", "fmt", "--check", path)
	assert.Equal(t, ExitUsage, code)
	assert.Equal(t, path+"\n", stdout)

	_, _, code = execCLI(t, "", "fmt", "--write", path)
	require.Equal(t, ExitOK, code)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "return [1 + 2]\n", string(data))

	_, _, code = execCLI(t, "", "fmt", "--check", path)
	assert.Equal(t, ExitOK, code)

	_, stderr, code = execCLI(t, "", "fmt", writeFile(t, dir, "c.dp", "# note\nreturn 1\n"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stderr, "comments are not preserved")
}

func TestTokens(t *testing.T) {
	path := writeFile(t, t.TempDir(), "t.dp", "x = 1\n")

	stdout, stderr, code := execCLI(t, "", "tokens", "--json", path)
	require.Equal(t, ExitOK, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.NotEmpty(t, lines)

	var first tokenJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, tokenJSON{Type: "IDENT", Value: "x", Line: 1, Col: 1}, first)
	assert.Contains(t, lines[len(lines)-1], `"EOF"`)

	stdout, _, code = execCLI(t, "", "tokens", path)
	require.Equal(t, ExitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "1:1\tIDENT\t\"x\"\n"), stdout)

	_, stderr, code = execCLI(t, "", "tokens", writeFile(t, t.TempDir(), "bad.dp", "x = \"open\n"))
	assert.Equal(t, ExitDiagnostics, code)
	assert.Contains(t, stderr, "E_UNTERMINATED_STRING")
}

func TestHelp(t *testing.T) {
	stdout, _, code := execCLI(t, "", "help")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "quick reference")

	stdout, _, code = execCLI(t, "", "help", "hist")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "HISTORY")

	stdout, _, code = execCLI(t, "", "help", "stdlib", "--index")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Total:")

	stdout, _, code = execCLI(t, "", "help", "run")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "--partition-by")

	_, stderr, code := execCLI(t, "", "help", "nonsense")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "available topics")
}

func TestVersion(t *testing.T) {
	stdout, _, code := execCLI(t, "", "version")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "dplang v"+Version)
}

func TestReplSessionExpressions(t *testing.T) {
	s := &replSession{rt: runtime.New()}
	eval := func(chunk string) string {
		t.Helper()
		out, err := s.eval(chunk)
		require.NoError(t, err, chunk)
		return out
	}

	assert.Equal(t, "3", eval("1 + 2"))
	assert.Equal(t, "", eval("x = 2"))
	assert.Equal(t, "6", eval("x * 3"))
	assert.Equal(t, "", eval("double(a):\n    return a * 2"))
	assert.Equal(t, "4", eval("double(x)"))
	assert.Equal(t, "[2, 4]", eval("[1, 2] |> map(v -> v * x)"))
	assert.Equal(t, "x = 2\ndouble(a):\n    return a * 2", eval(":session"))

	_, err := s.eval("y + 1")
	var diagErr *runtime.DiagnosticError
	require.ErrorAs(t, err, &diagErr)
	assert.Equal(t, "E_UNDEFINED", diagErr.Diagnostics[0].Code)

	_, err = s.eval("x = 5")
	require.ErrorAs(t, err, &diagErr)
	assert.Equal(t, "E_SHADOW", diagErr.Diagnostics[0].Code)

	_, err = s.eval("1 / 0")
	require.Error(t, err)

	assert.Equal(t, "session cleared", eval(":reset"))
	assert.Equal(t, "", eval(":session"))

	_, err = s.eval(":quit")
	assert.ErrorIs(t, err, errQuit)
	_, err = s.eval(":bogus")
	assert.Error(t, err)
}

func TestReplSessionRows(t *testing.T) {
	rt := runtime.New()
	prog, err := rt.Compile("-- INPUT v:number --\n-- OUTPUT d --\nreturn v - coalesce(v[-1], v)\n", "d.dp")
	require.NoError(t, err)
	s := &replSession{rt: rt, inst: prog.NewInstance()}

	out, err := s.eval(`{"v": 5}`)
	require.NoError(t, err)
	assert.Equal(t, `{"d":0}`, out)

	out, err = s.eval(`{"v": 8}`)
	require.NoError(t, err)
	assert.Equal(t, `{"d":3}`, out)

	out, err = s.eval(":reset")
	require.NoError(t, err)
	assert.Equal(t, "history cleared", out)

	out, err = s.eval(`{"v": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"d":0}`, out)

	_, err = s.eval("not a row")
	assert.Error(t, err)
}
