// Package formatter implements the DPLang source code formatter.
package formatter

import (
	"strconv"
	"strings"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

const indent = "    "

// Binding strength of each expression form, loosest first. An operand
// is wrapped in parentheses when it binds looser than its position needs.
const (
	precLambda = iota
	precPipe
	precTernary
	precOr
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precPow
	precUnary
	precPostfix
)

var binaryPrec = map[ast.BinaryOp]int{
	ast.OpOr:  precOr,
	ast.OpAnd: precAnd,
	ast.OpGt:  precCompare, ast.OpLt: precCompare, ast.OpGtEq: precCompare,
	ast.OpLtEq: precCompare, ast.OpEqEq: precCompare, ast.OpNeq: precCompare,
	ast.OpAdd: precAdd, ast.OpSub: precAdd,
	ast.OpMul: precMul, ast.OpDiv: precMul, ast.OpMod: precMul,
	ast.OpPow: precPow,
}

func exprPrec(e ast.Expr) int {
	switch expr := e.(type) {
	case *ast.LambdaExpr:
		return precLambda
	case *ast.PipeExpr:
		return precPipe
	case *ast.TernaryExpr:
		return precTernary
	case *ast.BinaryExpr:
		return binaryPrec[expr.Op]
	case *ast.UnaryExpr:
		if expr.Op == ast.OpNot {
			return precNot
		}
		return precUnary
	}
	return precPostfix
}

// Format pretty-prints a DPLang AST back to source code. Function
// definitions are printed before the body statements.
func Format(script *ast.Script) string {
	var sections []string

	var head []string
	if script.ScriptKind == ast.PackageScript {
		head = append(head, "package "+script.Name)
	}
	for _, h := range script.Headers {
		head = append(head, formatHeader(h))
	}
	if script.HasErrorBlock {
		head = append(head, "-- ERROR --")
		head = append(head, formatBlock(script.ErrorBlock, -1)...)
		head = append(head, "-- ERROR_END --")
	}
	if len(head) > 0 {
		sections = append(sections, strings.Join(head, "\n"))
	}

	for _, fn := range script.Functions {
		sections = append(sections, strings.Join(formatFnDecl(fn, 0), "\n"))
	}
	if len(script.Body) > 0 {
		sections = append(sections, strings.Join(formatBlock(script.Body, -1), "\n"))
	}
	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n") + "\n"
}

// HasComments checks if a source string contains DPLang comments (# prefix).
func HasComments(source string) bool {
	for _, line := range strings.Split(source, "\n") {
		// Be careful not to flag # inside strings
		var quote byte
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case quote != 0 && ch == '\\':
				i++
			case quote != 0 && ch == quote:
				quote = 0
			case quote == 0 && (ch == '"' || ch == '\''):
				quote = ch
			case quote == 0 && ch == '#':
				return true
			}
		}
	}
	return false
}

func formatHeader(h ast.Header) string {
	switch hdr := h.(type) {
	case *ast.InputDecl:
		return "-- INPUT " + formatDirectiveParams(hdr.Params) + " --"
	case *ast.OutputDecl:
		return "-- OUTPUT " + formatDirectiveParams(hdr.Params) + " --"
	case *ast.ImportDecl:
		return "-- IMPORT " + strings.Join(hdr.Names, ", ") + " --"
	case *ast.PrecisionDecl:
		return "-- PRECISION " + strconv.Itoa(hdr.Digits) + " --"
	}
	return ""
}

func formatDirectiveParams(params []ast.Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Name
		if p.Type != ast.TypeAny {
			parts[i] += ":" + string(p.Type)
		}
	}
	return strings.Join(parts, ", ")
}

func formatFnDecl(fn *ast.FnDecl, depth int) []string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Name
		if p.Type != ast.TypeAny {
			params[i] += ": " + string(p.Type)
		}
		if p.Default != nil {
			params[i] += " = " + formatOperand(p.Default, precTernary)
		}
	}
	sig := strings.Repeat(indent, depth) + fn.Name + "(" + strings.Join(params, ", ") + ")"
	if fn.ReturnType != ast.TypeAny {
		sig += " -> " + string(fn.ReturnType)
	}
	return append([]string{sig + ":"}, formatBlock(fn.Body, depth)...)
}

// formatBlock formats stmts one level deeper than depth; depth -1 is the
// top level.
func formatBlock(stmts []ast.Stmt, depth int) []string {
	var lines []string
	for _, s := range stmts {
		lines = append(lines, formatStmt(s, depth+1)...)
	}
	return lines
}

func formatStmt(s ast.Stmt, depth int) []string {
	prefix := strings.Repeat(indent, depth)
	switch stmt := s.(type) {
	case *ast.AssignStmt:
		return []string{prefix + stmt.Name + " = " + formatExpr(stmt.Value)}
	case *ast.DestructureStmt:
		targets := make([]string, len(stmt.Targets))
		for i, t := range stmt.Targets {
			targets[i] = t.Name
			if t.Rest {
				targets[i] = "..." + t.Name
			}
		}
		return []string{prefix + "[" + strings.Join(targets, ", ") + "] = " + formatExpr(stmt.Value)}
	case *ast.ReturnStmt:
		if stmt.Value == nil {
			return []string{prefix + "return"}
		}
		return []string{prefix + "return " + formatExpr(stmt.Value)}
	case *ast.ExitStmt:
		return []string{prefix + "exit"}
	case *ast.ExprStmt:
		return []string{prefix + formatExpr(stmt.Expr)}
	case *ast.IfStmt:
		lines := []string{prefix + "if " + formatExpr(stmt.Cond) + ":"}
		lines = append(lines, formatBlock(stmt.Then, depth)...)
		for _, elif := range stmt.Elifs {
			lines = append(lines, prefix+"elif "+formatExpr(elif.Cond)+":")
			lines = append(lines, formatBlock(elif.Body, depth)...)
		}
		if stmt.Else != nil {
			lines = append(lines, prefix+"else:")
			lines = append(lines, formatBlock(stmt.Else, depth)...)
		}
		return lines
	}
	return nil
}

func formatExpr(e ast.Expr) string {
	return formatOperand(e, precLambda)
}

// formatOperand formats e in a position that requires at least prec.
func formatOperand(e ast.Expr, prec int) string {
	s := formatRaw(e)
	if exprPrec(e) < prec {
		return "(" + s + ")"
	}
	return s
}

func formatRaw(e ast.Expr) string {
	switch expr := e.(type) {
	case *ast.NumberLiteral:
		if expr.Raw != "" {
			return expr.Raw
		}
		return evaluator.FormatNumber(expr.Value)
	case *ast.BoolLiteral:
		if expr.Value {
			return "true"
		}
		return "false"
	case *ast.StrLiteral:
		return quote(expr.Value)
	case *ast.NullLiteral:
		return "null"
	case *ast.Ident:
		return expr.Name
	case *ast.MemberExpr:
		return expr.Object + "." + expr.Member
	case *ast.ArrayExpr:
		return "[" + formatList(expr.Elements) + "]"
	case *ast.SpreadExpr:
		return "..." + formatExpr(expr.Operand)
	case *ast.BinaryExpr:
		p := binaryPrec[expr.Op]
		left, right := p, p+1
		switch {
		case expr.Op == ast.OpPow:
			// right-associative, and unary minus binds tighter than ^
			left, right = precUnary, precPow
		case expr.Op.IsComparison():
			left, right = precAdd, precAdd
		}
		return formatOperand(expr.Left, left) + " " + string(expr.Op) + " " + formatOperand(expr.Right, right)
	case *ast.UnaryExpr:
		if expr.Op == ast.OpNot {
			return "not " + formatOperand(expr.Operand, precNot)
		}
		operand := formatOperand(expr.Operand, precUnary)
		if strings.HasPrefix(operand, "-") {
			// "--" would start a directive
			return "- " + operand
		}
		return "-" + operand
	case *ast.TernaryExpr:
		return formatOperand(expr.Cond, precOr) + " ? " + formatOperand(expr.Then, precTernary) +
			" : " + formatOperand(expr.Else, precTernary)
	case *ast.PipeExpr:
		parts := []string{formatOperand(expr.Value, precTernary)}
		for _, stage := range expr.Stages {
			parts = append(parts, formatOperand(stage, precTernary))
		}
		return strings.Join(parts, " |> ")
	case *ast.LambdaExpr:
		params := strings.Join(expr.Params, ", ")
		if len(expr.Params) != 1 {
			params = "(" + params + ")"
		}
		return params + " -> " + formatExpr(expr.Body)
	case *ast.CallExpr:
		return formatRaw(expr.Callee) + "(" + formatList(expr.Args) + ")"
	case *ast.IndexExpr:
		return formatOperand(expr.Base, precPostfix) + "[" + formatExpr(expr.Index) + "]"
	case *ast.SliceExpr:
		var start, end string
		if expr.Start != nil {
			start = formatExpr(expr.Start)
		}
		if expr.End != nil {
			end = formatExpr(expr.End)
		}
		return formatOperand(expr.Base, precPostfix) + "[" + start + ":" + end + "]"
	}
	return ""
}

func formatList(items []ast.Expr) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = formatExpr(item)
	}
	return strings.Join(parts, ", ")
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
