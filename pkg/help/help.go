// Package help holds the text behind `dplang help`: a one-screen quick
// reference plus longer topics.
package help

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/stdlib"
)

// QUICKREF is printed by `dplang help` without a topic.
const QUICKREF = `DPLang v0.3 quick reference

  -- INPUT close:number, volume --      declare row fields (optional types)
  -- OUTPUT ma, signal --               name the returned values
  -- IMPORT ta --                       load packages/ta.dp
  -- PRECISION 2 --                     round decimal outputs
  -- ERROR --                           runs when a row fails
  return [null, _error]
  -- ERROR_END --

  ma = SMA(close[-4:0], 5)              assign (rows see close[-1], close[-5:0])
  return [ma, close > ma]               one value per OUTPUT name

Topics (dplang help <topic>):
  syntax       statements, operators, lambdas, pipes
  types        values, coercion, decimal arithmetic
  history      offsets, slices and the history window
  stdlib       builtin functions (add --index for the list)
  packages     package scripts and IMPORT
  errors       ERROR blocks, exit, runtime error kinds
  diagnostics  diagnostic codes and exit codes
  examples     complete scripts
`

// TopicList is the display order of Topics.
var TopicList = []string{"syntax", "types", "history", "stdlib", "packages", "errors", "diagnostics", "examples"}

// Topics maps a topic name to its text.
var Topics = map[string]string{
	"syntax": `SYNTAX

Blocks are indented (4 spaces per level, tabs count as 4). Comments start
with '#'.

  x = expr                      assignment; a name is bound once per scope
  [a, _, ...rest] = xs          destructuring; '_' discards
  if c:                         if / elif / else
      ...
  elif d:
      ...
  else:
      ...
  return expr                   emit the row's output
  exit                          stop the run (ERROR block only)

Functions:
  score(x: number, w: number = 2) -> number:
      return x * w

Expressions, lowest precedence first:
  |>            pipe: xs |> map(x -> x * 2) |> sum
  c ? a : b     ternary
  or, and, not
  == != < <= > >=   (chains: a < b < c)
  + -
  * / %
  ^             right associative
  -x            unary minus
  f(x) a[i] a[i:j] pkg.member

Lambdas: x -> x + 1, (a, b) -> a + b
Arrays:  [1, 2, ...xs]
Strings: "a\tb", 'it\'s', "é"
`,

	"types": `TYPES

  null      missing input, evicted history, out of range index
  bool      true / false
  number    64-bit float
  decimal   exact decimal (INPUT x:decimal, decimal("1.10"))
  string    text
  array     ordered values; history slices are zero-copy views

Only null and false are falsy.

Arithmetic between arrays works element-wise and needs equal lengths;
an array and a scalar broadcast. Mixing decimal and number gives decimal.
Null operands count as 0 in arithmetic.

INPUT and function parameter types coerce values:
  number   "42" -> 42
  decimal  1.25 -> 1.25 (exact)
  string   any value -> its text
  bool     "true" -> true
  array    "[1,2]" -> [1, 2]
A value that cannot be coerced raises TypeError.
`,

	"history": `HISTORY

Every INPUT and OUTPUT column keeps a bounded window of its past values
(default 1000 rows, --window to change). Other variables are plain values.

  close[0]          current row
  close[-1]         previous row (null before the first row)
  close[-4:0]       last five rows, oldest first
  ref(close, 2)     same as close[-2]
  past(close, 3)    [close[-3], close[-2], close[-1]]
  window(close, 3)  [close[-2], close[-1], close[0]]

Offsets must be zero or negative. Indexing a plain array with [i] counts
from the front; negative indexes count from the end. Write "a[1]" to
index; "a [1]" is an array literal.
`,

	"stdlib": `STDLIB

Math      abs sqrt floor ceil round log exp pow sum avg max min std
Lists     len append concat sort reverse unique flat range first last
          index_of contains join map filter reduce
Strings   split upper lower trim replace starts_with ends_with str
Values    is_null coalesce typeof any all number decimal bool
JSON      parse_json to_json
History   ref offset past window
Ta        MA SMA EMA RSI MACD BOLL ATR KDJ
Debug     print

Indicators take a series (usually a history slice) and skip nulls:
  SMA(close[-19:0], 20)   EMA(close, 12)   RSI(close[-14:0], 14)
  MACD(close, 12, 26, 9) -> [dif, dea, hist]
  BOLL(close[-19:0], 20, 2) -> [mid, upper, lower]
  ATR(high, low, close, 14)   KDJ(high, low, close, 9) -> [k, d, j]
`,

	"packages": `PACKAGES

A package is a .dp file that starts with 'package <name>'. It may declare
its own IMPORT header, variables and functions; it has no body output.

  package ta
  _k = 2
  scale(v):
      return v * _k

Members starting with '_' are private. Scripts import packages with
-- IMPORT ta -- and call ta.scale(close). Packages are looked up as
<name>.dp in --package-path directories, then ./packages and '.'.
Import cycles are reported as E_IMPORT_CYCLE.
`,

	"errors": `ERRORS

The ERROR block sits with the headers, before the body. A runtime error
in a row runs it with the same row scope
plus _error, the error message. Its fields _error.kind, _error.message,
_error.line and _error.code describe the failure:

  -- ERROR --
  return [null, _error.kind]
  -- ERROR_END --

The row's return value from the ERROR block becomes its output and the
run continues. 'exit' inside the ERROR block stops the run. Without an
ERROR block the first runtime error aborts the run.

Kinds: ZeroDivision, TypeError, UndefinedVariable, IndexContextError,
ArrayLengthMismatch, ArityError, BudgetExceeded.
`,

	"diagnostics": `DIAGNOSTICS

Compile time (exit code 2):
  E_LEX E_UNTERMINATED_STRING E_INDENT E_SYNTAX E_UNEXPECTED_TOKEN
  E_UNDEFINED E_SHADOW E_EXIT_OUTSIDE_ERROR E_PACKAGE E_IMPORT_CYCLE
Warnings (never block): W_UNUSED
Runtime (exit code 4):
  E_ZERO_DIVISION E_TYPE E_INDEX_CONTEXT E_LENGTH_MISMATCH E_ARITY E_BUDGET
Host (exit code 1): E_IO E_CONFIG

Diagnostics print to stderr as a JSON array by default; --pretty renders
them for a terminal.
`,

	"examples": `EXAMPLES

Moving average crossover:

  -- INPUT close:number --
  -- OUTPUT fast, slow, cross --
  fast = SMA(close[-4:0], 5)
  slow = SMA(close[-19:0], 20)
  cross = fast > slow and fast[-1] <= slow[-1]
  return [fast, slow, cross]

Running total with a guard:

  -- INPUT qty, price:decimal --
  -- OUTPUT total --
  -- PRECISION 2 --
  -- ERROR --
  return 0
  -- ERROR_END --
  line = qty * price
  total = coalesce(total[-1], 0) + line
  return total

Run: dplang run cross.dp --input prices.csv --format csv
`,
}

// MatchTopic resolves a topic by exact name or unique prefix.
func MatchTopic(query string) (string, string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if content, ok := Topics[q]; ok {
		return q, content, nil
	}
	var matches []string
	for _, name := range TopicList {
		if q != "" && strings.HasPrefix(name, q) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], Topics[matches[0]], nil
	case 0:
		if hint := diagnostics.DidYouMean(q, TopicList); hint != "" {
			return "", "", fmt.Errorf("unknown help topic %q, %s", query, hint)
		}
		return "", "", fmt.Errorf("unknown help topic %q", query)
	default:
		return "", "", fmt.Errorf("ambiguous help topic %q: %s", query, strings.Join(matches, ", "))
	}
}

// StdlibIndex lists every callable builtin of the default registry in
// columns, followed by a total.
func StdlibIndex() string {
	names := append(stdlib.Default().Names(), evaluator.IntrinsicNames()...)
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Builtin functions:\n")
	const perLine = 6
	for i, name := range names {
		if i%perLine == 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, " %-12s", name)
		if i%perLine == perLine-1 || i == len(names)-1 {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\nTotal: %d functions\n", len(names))
	return b.String()
}
