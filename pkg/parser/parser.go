// Package parser implements the DPLang parser.
//
// The parser is recursive descent and stops at the first structural error.
// Operator precedence, lowest first: pipe, ternary, or, and, not,
// comparison (chained), additive, multiplicative, power, unary, postfix,
// primary.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/lexer"
)

type parser struct {
	tokens   []lexer.Token
	pos      int
	diags    []diagnostics.Diagnostic
	filename string
}

// Parse tokenizes source and parses it into a script AST.
func Parse(source, filename string) (*ast.Script, []diagnostics.Diagnostic) {
	tokens, diags := tokenize(source, filename)
	if diags != nil {
		return nil, diags
	}
	return ParseTokens(tokens, filename)
}

// ParseTokens parses an already tokenized script.
func ParseTokens(tokens []lexer.Token, filename string) (*ast.Script, []diagnostics.Diagnostic) {
	p := &parser{tokens: tokens, pos: 0, filename: filename}
	script := p.parseScript()
	if len(p.diags) > 0 {
		return nil, p.diags
	}
	return script, nil
}

// ParseExpr parses a single expression.
func ParseExpr(source, filename string) (ast.Expr, []diagnostics.Diagnostic) {
	tokens, diags := tokenize(source, filename)
	if diags != nil {
		return nil, diags
	}
	p := &parser{tokens: tokens, pos: 0, filename: filename}
	expr := p.parseExpr()
	if expr != nil {
		p.skipNewlines()
		if p.peek() != lexer.TokEOF {
			p.unexpected()
		}
	}
	if len(p.diags) > 0 {
		return nil, p.diags
	}
	return expr, nil
}

func tokenize(source, filename string) ([]lexer.Token, []diagnostics.Diagnostic) {
	tokens, err := lexer.Tokenize(source, filename)
	if err != nil {
		var le *lexer.LexError
		if errors.As(err, &le) {
			return nil, []diagnostics.Diagnostic{le.Diag}
		}
		return nil, []diagnostics.Diagnostic{diagnostics.MakeDiag(diagnostics.ELex, err.Error(), nil, "")}
	}
	return tokens, nil
}

func (p *parser) current() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1] // EOF
	}
	return p.tokens[p.pos]
}

func (p *parser) peek() lexer.TokenType {
	return p.current().Type
}

func (p *parser) peekAt(offset int) lexer.TokenType {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return lexer.TokEOF
	}
	return p.tokens[idx].Type
}

// attached reports whether the current token directly follows the
// previous one on the same line.
func (p *parser) attached() bool {
	if p.pos == 0 || p.pos >= len(p.tokens) {
		return false
	}
	prev, cur := p.tokens[p.pos-1].Span, p.tokens[p.pos].Span
	return prev.EndLine == cur.StartLine && prev.EndCol == cur.StartCol
}

func (p *parser) advance() lexer.Token {
	tok := p.current()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) expect(typ lexer.TokenType) (lexer.Token, bool) {
	tok := p.current()
	if tok.Type != typ {
		p.addErrorCode(diagnostics.EUnexpectedToken,
			fmt.Sprintf("expected %s, got %s", tokenName(typ), describe(tok)), &tok.Span)
		return tok, false
	}
	return p.advance(), true
}

func (p *parser) addError(msg string, span *ast.Span) {
	p.addErrorCode(diagnostics.ESyntax, msg, span)
}

// addErrorCode records only the first error; parsing stops there.
func (p *parser) addErrorCode(code, msg string, span *ast.Span) {
	if len(p.diags) > 0 {
		return
	}
	p.diags = append(p.diags, diagnostics.MakeDiag(code, msg, span, ""))
}

func (p *parser) unexpected() {
	tok := p.current()
	p.addErrorCode(diagnostics.EUnexpectedToken, fmt.Sprintf("unexpected %s", describe(tok)), &tok.Span)
}

func (p *parser) spanFrom(start ast.Span) ast.Span {
	end := start
	if p.pos > 0 {
		end = p.tokens[p.pos-1].Span
	}
	return p.spanFromTo(start, end)
}

func (p *parser) spanFromTo(start, end ast.Span) ast.Span {
	return ast.Span{
		File:      start.File,
		StartLine: start.StartLine,
		StartCol:  start.StartCol,
		EndLine:   end.EndLine,
		EndCol:    end.EndCol,
	}
}

func (p *parser) skipNewlines() {
	for p.peek() == lexer.TokNewline {
		p.advance()
	}
}

var tokenNames = map[lexer.TokenType]string{
	lexer.TokLBracket:     "'['",
	lexer.TokRBracket:     "']'",
	lexer.TokLParen:       "'('",
	lexer.TokRParen:       "')'",
	lexer.TokColon:        "':'",
	lexer.TokComma:        "','",
	lexer.TokEquals:       "'='",
	lexer.TokArrow:        "'->'",
	lexer.TokQuestion:     "'?'",
	lexer.TokPipe:         "'|>'",
	lexer.TokIdent:        "identifier",
	lexer.TokString:       "string",
	lexer.TokNumber:       "number",
	lexer.TokNewline:      "end of line",
	lexer.TokIndent:       "indented block",
	lexer.TokDedent:       "end of block",
	lexer.TokEOF:          "end of file",
	lexer.TokDirInput:     "'-- INPUT --'",
	lexer.TokDirOutput:    "'-- OUTPUT --'",
	lexer.TokDirImport:    "'-- IMPORT --'",
	lexer.TokDirPrecision: "'-- PRECISION --'",
	lexer.TokDirError:     "'-- ERROR --'",
	lexer.TokDirErrorEnd:  "'-- ERROR_END --'",
}

func tokenName(t lexer.TokenType) string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", t)
}

func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.TokNewline, lexer.TokIndent, lexer.TokDedent, lexer.TokEOF,
		lexer.TokDirInput, lexer.TokDirOutput, lexer.TokDirImport,
		lexer.TokDirPrecision, lexer.TokDirError, lexer.TokDirErrorEnd:
		return tokenName(tok.Type)
	}
	return "'" + tok.Value + "'"
}

func isDirective(t lexer.TokenType) bool {
	return t >= lexer.TokDirInput && t <= lexer.TokDirErrorEnd
}

// --- Script ---

func (p *parser) parseScript() *ast.Script {
	p.skipNewlines()
	startSpan := p.current().Span
	script := &ast.Script{ScriptKind: ast.DataScript}

	if p.peek() == lexer.TokPackage {
		p.advance()
		nameTok, ok := p.expect(lexer.TokIdent)
		if !ok {
			return nil
		}
		script.ScriptKind = ast.PackageScript
		script.Name = nameTok.Value
		if !p.expectEnd() {
			return nil
		}
	}

	if !p.parseHeaders(script) {
		return nil
	}

	for {
		p.skipNewlines()
		if p.peek() == lexer.TokEOF {
			break
		}
		if isDirective(p.peek()) {
			tok := p.current()
			p.addError(fmt.Sprintf("directive %s must precede all statements", tokenName(tok.Type)), &tok.Span)
			return nil
		}
		if p.atFnDecl() {
			fn := p.parseFnDecl()
			if fn == nil {
				return nil
			}
			script.Functions = append(script.Functions, fn)
			continue
		}
		stmt := p.parseStmt()
		if stmt == nil {
			return nil
		}
		if script.ScriptKind == ast.PackageScript {
			if _, ok := stmt.(*ast.AssignStmt); !ok {
				span := stmt.NodeSpan()
				p.addError("package scripts may only contain constant assignments and function definitions", &span)
				return nil
			}
		}
		script.Body = append(script.Body, stmt)
	}

	script.Span = p.spanFrom(startSpan)
	return script
}

func (p *parser) parseHeaders(script *ast.Script) bool {
	for {
		p.skipNewlines()
		tok := p.current()
		if script.ScriptKind == ast.PackageScript && isDirective(tok.Type) && tok.Type != lexer.TokDirImport {
			p.addError(fmt.Sprintf("directive %s is not allowed in a package script", tokenName(tok.Type)), &tok.Span)
			return false
		}
		switch tok.Type {
		case lexer.TokDirInput:
			p.advance()
			params := p.parseDirectiveParams(tok)
			if params == nil && len(p.diags) > 0 {
				return false
			}
			script.Headers = append(script.Headers, &ast.InputDecl{Span: tok.Span, Params: params})
		case lexer.TokDirOutput:
			p.advance()
			params := p.parseDirectiveParams(tok)
			if params == nil && len(p.diags) > 0 {
				return false
			}
			script.Headers = append(script.Headers, &ast.OutputDecl{Span: tok.Span, Params: params})
		case lexer.TokDirImport:
			p.advance()
			names := p.parseImportNames(tok)
			if names == nil && len(p.diags) > 0 {
				return false
			}
			script.Headers = append(script.Headers, &ast.ImportDecl{Span: tok.Span, Names: names})
		case lexer.TokDirPrecision:
			p.advance()
			digits, err := strconv.Atoi(strings.TrimSpace(tok.Value))
			if err != nil || digits < 0 {
				p.addError(fmt.Sprintf("PRECISION expects a non-negative integer, got %q", tok.Value), &tok.Span)
				return false
			}
			script.Headers = append(script.Headers, &ast.PrecisionDecl{Span: tok.Span, Digits: digits})
		case lexer.TokDirError:
			if script.HasErrorBlock {
				p.addError("only one ERROR block is allowed", &tok.Span)
				return false
			}
			if !p.parseErrorBlock(script) {
				return false
			}
		case lexer.TokDirErrorEnd:
			p.addError("'-- ERROR_END --' without a matching '-- ERROR --'", &tok.Span)
			return false
		default:
			return true
		}
	}
}

func (p *parser) parseErrorBlock(script *ast.Script) bool {
	start := p.advance() // consume ERROR
	script.HasErrorBlock = true
	for {
		p.skipNewlines()
		switch p.peek() {
		case lexer.TokDirErrorEnd:
			p.advance()
			script.ErrorSpan = p.spanFrom(start.Span)
			return true
		case lexer.TokEOF:
			p.addError("ERROR block is missing '-- ERROR_END --'", &start.Span)
			return false
		}
		if isDirective(p.peek()) {
			p.unexpected()
			return false
		}
		stmt := p.parseStmt()
		if stmt == nil {
			return false
		}
		script.ErrorBlock = append(script.ErrorBlock, stmt)
	}
}

func (p *parser) parseDirectiveParams(tok lexer.Token) []ast.Param {
	var params []ast.Param
	for _, part := range strings.Split(tok.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typeName, hasType := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !isIdentifier(name) {
			p.addError(fmt.Sprintf("invalid parameter name %q", name), &tok.Span)
			return nil
		}
		param := ast.Param{Span: tok.Span, Name: name}
		if hasType {
			typ, ok := ast.ParamTypes[strings.TrimSpace(typeName)]
			if !ok {
				p.addError(fmt.Sprintf("unknown type %q for parameter '%s'", strings.TrimSpace(typeName), name), &tok.Span)
				return nil
			}
			param.Type = typ
		}
		params = append(params, param)
	}
	return params
}

func (p *parser) parseImportNames(tok lexer.Token) []string {
	var names []string
	for _, part := range strings.Split(tok.Value, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if !isIdentifier(name) {
			p.addError(fmt.Sprintf("invalid package name %q", name), &tok.Span)
			return nil
		}
		names = append(names, name)
	}
	return names
}

func isIdentifier(s string) bool {
	if s == "" || lexer.IsKeyword(s) {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r))) {
			continue
		}
		return false
	}
	return true
}

// --- Function definitions ---

// atFnDecl looks ahead for `name(...) [-> type]:` followed by a newline.
func (p *parser) atFnDecl() bool {
	if p.peek() != lexer.TokIdent || p.peekAt(1) != lexer.TokLParen {
		return false
	}
	depth := 0
	i := 1
	for ; ; i++ {
		switch p.peekAt(i) {
		case lexer.TokLParen:
			depth++
		case lexer.TokRParen:
			depth--
		case lexer.TokEOF, lexer.TokNewline:
			return false
		}
		if depth == 0 {
			break
		}
	}
	i++
	if p.peekAt(i) == lexer.TokArrow && p.peekAt(i+1) == lexer.TokIdent {
		i += 2
	}
	return p.peekAt(i) == lexer.TokColon && p.peekAt(i+1) == lexer.TokNewline
}

func (p *parser) parseFnDecl() *ast.FnDecl {
	nameTok := p.advance()
	p.advance() // consume '('

	var params []ast.Param
	seenDefault := false
	for p.peek() != lexer.TokRParen {
		paramTok, ok := p.expect(lexer.TokIdent)
		if !ok {
			return nil
		}
		param := ast.Param{Span: paramTok.Span, Name: paramTok.Value}
		if p.peek() == lexer.TokColon {
			p.advance()
			typeTok, ok := p.expect(lexer.TokIdent)
			if !ok {
				return nil
			}
			typ, known := ast.ParamTypes[typeTok.Value]
			if !known {
				p.addError(fmt.Sprintf("unknown type '%s'", typeTok.Value), &typeTok.Span)
				return nil
			}
			param.Type = typ
		}
		if p.peek() == lexer.TokEquals {
			p.advance()
			def := p.parseTernary()
			if def == nil {
				return nil
			}
			param.Default = def
			seenDefault = true
		} else if seenDefault {
			p.addError(fmt.Sprintf("required parameter '%s' follows a parameter with a default", param.Name), &paramTok.Span)
			return nil
		}
		params = append(params, param)
		if p.peek() != lexer.TokComma {
			break
		}
		p.advance()
	}
	if _, ok := p.expect(lexer.TokRParen); !ok {
		return nil
	}

	var returnType ast.ParamType
	if p.peek() == lexer.TokArrow {
		p.advance()
		typeTok := p.advance()
		typ, known := ast.ParamTypes[typeTok.Value]
		if !known {
			p.addError(fmt.Sprintf("unknown return type '%s'", typeTok.Value), &typeTok.Span)
			return nil
		}
		returnType = typ
	}

	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &ast.FnDecl{
		Span:       p.spanFrom(nameTok.Span),
		Name:       nameTok.Value,
		Params:     params,
		ReturnType: returnType,
		Body:       body,
	}
}

// --- Statements ---

// expectEnd requires the end of a simple statement.
func (p *parser) expectEnd() bool {
	switch p.peek() {
	case lexer.TokNewline:
		p.advance()
		return true
	case lexer.TokEOF, lexer.TokDedent:
		return true
	}
	p.unexpected()
	return false
}

func (p *parser) parseStmt() ast.Stmt {
	switch p.peek() {
	case lexer.TokIf:
		s := p.parseIfStmt()
		if s == nil {
			return nil
		}
		return s
	case lexer.TokReturn:
		s := p.parseReturnStmt()
		if s == nil {
			return nil
		}
		return s
	case lexer.TokExit:
		tok := p.advance()
		if !p.expectEnd() {
			return nil
		}
		return &ast.ExitStmt{Span: tok.Span}
	case lexer.TokLBracket:
		if p.atDestructure() {
			s := p.parseDestructure()
			if s == nil {
				return nil
			}
			return s
		}
	case lexer.TokIdent:
		if p.peekAt(1) == lexer.TokEquals {
			s := p.parseAssignStmt()
			if s == nil {
				return nil
			}
			return s
		}
	case lexer.TokIndent:
		tok := p.current()
		p.addErrorCode(diagnostics.EIndent, "unexpected indentation", &tok.Span)
		return nil
	}
	s := p.parseExprStmt()
	if s == nil {
		return nil
	}
	return s
}

func (p *parser) parseAssignStmt() *ast.AssignStmt {
	nameTok := p.advance()
	p.advance() // consume '='
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	if !p.expectEnd() {
		return nil
	}
	return &ast.AssignStmt{
		Span:  p.spanFromTo(nameTok.Span, value.NodeSpan()),
		Name:  nameTok.Value,
		Value: value,
	}
}

// atDestructure looks for `[ ... ] =` at statement start.
func (p *parser) atDestructure() bool {
	depth := 0
	for i := 0; ; i++ {
		switch p.peekAt(i) {
		case lexer.TokLBracket:
			depth++
		case lexer.TokRBracket:
			depth--
			if depth == 0 {
				return p.peekAt(i+1) == lexer.TokEquals
			}
		case lexer.TokEOF, lexer.TokNewline:
			return false
		}
	}
}

func (p *parser) parseDestructure() *ast.DestructureStmt {
	start := p.advance() // consume '['
	var targets []ast.DestructureTarget
	for p.peek() != lexer.TokRBracket {
		rest := false
		if p.peek() == lexer.TokDotDotDot {
			p.advance()
			rest = true
		}
		nameTok, ok := p.expect(lexer.TokIdent)
		if !ok {
			return nil
		}
		if len(targets) > 0 && targets[len(targets)-1].Rest {
			p.addError("a '...' target must be the last element of a destructuring pattern", &nameTok.Span)
			return nil
		}
		targets = append(targets, ast.DestructureTarget{Name: nameTok.Value, Rest: rest})
		if p.peek() != lexer.TokComma {
			break
		}
		p.advance()
	}
	if _, ok := p.expect(lexer.TokRBracket); !ok {
		return nil
	}
	p.advance() // consume '='
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	if !p.expectEnd() {
		return nil
	}
	return &ast.DestructureStmt{
		Span:    p.spanFromTo(start.Span, value.NodeSpan()),
		Targets: targets,
		Value:   value,
	}
}

func (p *parser) parseReturnStmt() *ast.ReturnStmt {
	start := p.advance() // consume 'return'
	switch p.peek() {
	case lexer.TokNewline, lexer.TokEOF, lexer.TokDedent:
		p.expectEnd()
		return &ast.ReturnStmt{Span: start.Span}
	}
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	if !p.expectEnd() {
		return nil
	}
	return &ast.ReturnStmt{
		Span:  p.spanFromTo(start.Span, value.NodeSpan()),
		Value: value,
	}
}

func (p *parser) parseExprStmt() *ast.ExprStmt {
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	if p.peek() == lexer.TokEquals {
		tok := p.current()
		p.addError("invalid assignment target; only plain names and [a, b] patterns can be assigned", &tok.Span)
		return nil
	}
	if !p.expectEnd() {
		return nil
	}
	return &ast.ExprStmt{Span: expr.NodeSpan(), Expr: expr}
}

func (p *parser) parseIfStmt() *ast.IfStmt {
	start := p.advance() // consume 'if'
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	then := p.parseBlock()
	if then == nil {
		return nil
	}
	stmt := &ast.IfStmt{Cond: cond, Then: then}

	for p.peek() == lexer.TokElif {
		elifTok := p.advance()
		elifCond := p.parseExpr()
		if elifCond == nil {
			return nil
		}
		body := p.parseBlock()
		if body == nil {
			return nil
		}
		stmt.Elifs = append(stmt.Elifs, ast.ElifClause{
			Span: p.spanFrom(elifTok.Span),
			Cond: elifCond,
			Body: body,
		})
	}

	if p.peek() == lexer.TokElse {
		p.advance()
		body := p.parseBlock()
		if body == nil {
			return nil
		}
		stmt.Else = body
	}

	stmt.Span = p.spanFrom(start.Span)
	return stmt
}

// parseBlock parses `: NEWLINE INDENT stmts DEDENT`.
func (p *parser) parseBlock() []ast.Stmt {
	if _, ok := p.expect(lexer.TokColon); !ok {
		return nil
	}
	if _, ok := p.expect(lexer.TokNewline); !ok {
		return nil
	}
	p.skipNewlines()
	if p.peek() != lexer.TokIndent {
		tok := p.current()
		p.addErrorCode(diagnostics.EIndent, "expected an indented block", &tok.Span)
		return nil
	}
	p.advance()

	var stmts []ast.Stmt
	for {
		p.skipNewlines()
		if p.peek() == lexer.TokDedent {
			p.advance()
			break
		}
		if p.peek() == lexer.TokEOF {
			break
		}
		stmt := p.parseStmt()
		if stmt == nil {
			return nil
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

// --- Expressions ---

func (p *parser) parseExpr() ast.Expr {
	return p.parsePipe()
}

func (p *parser) parsePipe() ast.Expr {
	value := p.parseTernary()
	if value == nil {
		return nil
	}
	if p.peek() != lexer.TokPipe {
		return value
	}
	var stages []ast.Expr
	for p.peek() == lexer.TokPipe {
		p.advance()
		stage := p.parseTernary()
		if stage == nil {
			return nil
		}
		stages = append(stages, stage)
	}
	return &ast.PipeExpr{
		Span:   p.spanFromTo(value.NodeSpan(), stages[len(stages)-1].NodeSpan()),
		Value:  value,
		Stages: stages,
	}
}

func (p *parser) parseTernary() ast.Expr {
	cond := p.parseOr()
	if cond == nil {
		return nil
	}
	if p.peek() != lexer.TokQuestion {
		return cond
	}
	p.advance()
	then := p.parseTernary()
	if then == nil {
		return nil
	}
	if _, ok := p.expect(lexer.TokColon); !ok {
		return nil
	}
	els := p.parseTernary()
	if els == nil {
		return nil
	}
	return &ast.TernaryExpr{
		Span: p.spanFromTo(cond.NodeSpan(), els.NodeSpan()),
		Cond: cond,
		Then: then,
		Else: els,
	}
}

func (p *parser) parseOr() ast.Expr {
	left := p.parseAnd()
	if left == nil {
		return nil
	}
	for p.peek() == lexer.TokOr {
		p.advance()
		right := p.parseAnd()
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{
			Span:  p.spanFromTo(left.NodeSpan(), right.NodeSpan()),
			Op:    ast.OpOr,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *parser) parseAnd() ast.Expr {
	left := p.parseNot()
	if left == nil {
		return nil
	}
	for p.peek() == lexer.TokAnd {
		p.advance()
		right := p.parseNot()
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{
			Span:  p.spanFromTo(left.NodeSpan(), right.NodeSpan()),
			Op:    ast.OpAnd,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *parser) parseNot() ast.Expr {
	if p.peek() == lexer.TokNot {
		start := p.advance()
		operand := p.parseNot()
		if operand == nil {
			return nil
		}
		return &ast.UnaryExpr{
			Span:    p.spanFromTo(start.Span, operand.NodeSpan()),
			Op:      ast.OpNot,
			Operand: operand,
		}
	}
	return p.parseComparison()
}

func comparisonOp(t lexer.TokenType) (ast.BinaryOp, bool) {
	switch t {
	case lexer.TokGt:
		return ast.OpGt, true
	case lexer.TokLt:
		return ast.OpLt, true
	case lexer.TokGtEq:
		return ast.OpGtEq, true
	case lexer.TokLtEq:
		return ast.OpLtEq, true
	case lexer.TokEqEq:
		return ast.OpEqEq, true
	case lexer.TokBangEq:
		return ast.OpNeq, true
	}
	return "", false
}

// parseComparison desugars a < b < c into (a < b) and (b < c); the shared
// operand node appears in both comparisons.
func (p *parser) parseComparison() ast.Expr {
	first := p.parseAdditive()
	if first == nil {
		return nil
	}

	var result ast.Expr
	left := first
	for {
		op, ok := comparisonOp(p.peek())
		if !ok {
			break
		}
		p.advance()
		right := p.parseAdditive()
		if right == nil {
			return nil
		}
		cmp := &ast.BinaryExpr{
			Span:  p.spanFromTo(left.NodeSpan(), right.NodeSpan()),
			Op:    op,
			Left:  left,
			Right: right,
		}
		if result == nil {
			result = cmp
		} else {
			result = &ast.BinaryExpr{
				Span:  p.spanFromTo(first.NodeSpan(), right.NodeSpan()),
				Op:    ast.OpAnd,
				Left:  result,
				Right: cmp,
			}
		}
		left = right
	}
	if result == nil {
		return first
	}
	return result
}

func (p *parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	if left == nil {
		return nil
	}

	for {
		var op ast.BinaryOp
		switch p.peek() {
		case lexer.TokPlus:
			op = ast.OpAdd
		case lexer.TokMinus:
			op = ast.OpSub
		default:
			return left
		}
		p.advance()
		right := p.parseMultiplicative()
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{
			Span:  p.spanFromTo(left.NodeSpan(), right.NodeSpan()),
			Op:    op,
			Left:  left,
			Right: right,
		}
	}
}

func (p *parser) parseMultiplicative() ast.Expr {
	left := p.parsePower()
	if left == nil {
		return nil
	}

	for {
		var op ast.BinaryOp
		switch p.peek() {
		case lexer.TokStar:
			op = ast.OpMul
		case lexer.TokSlash:
			op = ast.OpDiv
		case lexer.TokPercent:
			op = ast.OpMod
		default:
			return left
		}
		p.advance()
		right := p.parsePower()
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{
			Span:  p.spanFromTo(left.NodeSpan(), right.NodeSpan()),
			Op:    op,
			Left:  left,
			Right: right,
		}
	}
}

// parsePower is right-associative: 2 ^ 3 ^ 2 == 2 ^ (3 ^ 2).
func (p *parser) parsePower() ast.Expr {
	base := p.parseUnary()
	if base == nil {
		return nil
	}
	if p.peek() != lexer.TokCaret {
		return base
	}
	p.advance()
	exp := p.parsePower()
	if exp == nil {
		return nil
	}
	return &ast.BinaryExpr{
		Span:  p.spanFromTo(base.NodeSpan(), exp.NodeSpan()),
		Op:    ast.OpPow,
		Left:  base,
		Right: exp,
	}
}

func (p *parser) parseUnary() ast.Expr {
	if p.peek() == lexer.TokMinus {
		start := p.advance()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &ast.UnaryExpr{
			Span:    p.spanFromTo(start.Span, operand.NodeSpan()),
			Op:      ast.OpNeg,
			Operand: operand,
		}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() ast.Expr {
	expr := p.parsePrimary()
	if expr == nil {
		return nil
	}

	for {
		switch p.peek() {
		case lexer.TokLParen:
			switch expr.(type) {
			case *ast.Ident, *ast.MemberExpr:
			default:
				tok := p.current()
				p.addError("only named functions and package members can be called", &tok.Span)
				return nil
			}
			p.advance()
			args := p.parseExprList(lexer.TokRParen)
			if args == nil && len(p.diags) > 0 {
				return nil
			}
			if _, ok := p.expect(lexer.TokRParen); !ok {
				return nil
			}
			expr = &ast.CallExpr{Span: p.spanFrom(expr.NodeSpan()), Callee: expr, Args: args}

		case lexer.TokLBracket:
			// "a[1]" indexes; "a [1]" is an array literal after a.
			if !p.attached() {
				return expr
			}
			expr = p.parseIndexOrSlice(expr)
			if expr == nil {
				return nil
			}

		case lexer.TokDot:
			ident, ok := expr.(*ast.Ident)
			if !ok {
				tok := p.current()
				p.addError("member access is only valid on a package name", &tok.Span)
				return nil
			}
			p.advance()
			memberTok, ok := p.expect(lexer.TokIdent)
			if !ok {
				return nil
			}
			expr = &ast.MemberExpr{
				Span:   p.spanFromTo(ident.Span, memberTok.Span),
				Object: ident.Name,
				Member: memberTok.Value,
			}

		default:
			return expr
		}
	}
}

func (p *parser) parseIndexOrSlice(base ast.Expr) ast.Expr {
	p.advance() // consume '['

	var start ast.Expr
	if p.peek() != lexer.TokColon {
		start = p.parseExpr()
		if start == nil {
			return nil
		}
		if p.peek() == lexer.TokRBracket {
			p.advance()
			return &ast.IndexExpr{Span: p.spanFrom(base.NodeSpan()), Base: base, Index: start}
		}
	}
	if _, ok := p.expect(lexer.TokColon); !ok {
		return nil
	}
	var end ast.Expr
	if p.peek() != lexer.TokRBracket {
		end = p.parseExpr()
		if end == nil {
			return nil
		}
	}
	if _, ok := p.expect(lexer.TokRBracket); !ok {
		return nil
	}
	return &ast.SliceExpr{Span: p.spanFrom(base.NodeSpan()), Base: base, Start: start, End: end}
}

// parseExprList parses comma-separated expressions up to (not including)
// the closing token; a trailing comma is allowed.
func (p *parser) parseExprList(closing lexer.TokenType) []ast.Expr {
	var items []ast.Expr
	for p.peek() != closing {
		var item ast.Expr
		if p.peek() == lexer.TokDotDotDot && closing == lexer.TokRBracket {
			start := p.advance()
			operand := p.parseExpr()
			if operand == nil {
				return nil
			}
			item = &ast.SpreadExpr{Span: p.spanFromTo(start.Span, operand.NodeSpan()), Operand: operand}
		} else {
			item = p.parseExpr()
			if item == nil {
				return nil
			}
		}
		items = append(items, item)
		if p.peek() != lexer.TokComma {
			break
		}
		p.advance()
	}
	return items
}

func (p *parser) parsePrimary() ast.Expr {
	switch p.peek() {
	case lexer.TokLParen:
		if p.atLambdaParams() {
			return p.parseLambda()
		}
		p.advance()
		expr := p.parseExpr()
		if expr == nil {
			return nil
		}
		if _, ok := p.expect(lexer.TokRParen); !ok {
			return nil
		}
		return expr

	case lexer.TokLBracket:
		start := p.advance()
		elems := p.parseExprList(lexer.TokRBracket)
		if elems == nil && len(p.diags) > 0 {
			return nil
		}
		if _, ok := p.expect(lexer.TokRBracket); !ok {
			return nil
		}
		return &ast.ArrayExpr{Span: p.spanFrom(start.Span), Elements: elems}

	case lexer.TokNumber:
		tok := p.advance()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			p.addError(fmt.Sprintf("invalid number literal '%s'", tok.Value), &tok.Span)
			return nil
		}
		return &ast.NumberLiteral{Span: tok.Span, Value: val, Raw: tok.Value}

	case lexer.TokString:
		tok := p.advance()
		return &ast.StrLiteral{Span: tok.Span, Value: tok.Value}

	case lexer.TokTrue:
		tok := p.advance()
		return &ast.BoolLiteral{Span: tok.Span, Value: true}

	case lexer.TokFalse:
		tok := p.advance()
		return &ast.BoolLiteral{Span: tok.Span, Value: false}

	case lexer.TokNull:
		tok := p.advance()
		return &ast.NullLiteral{Span: tok.Span}

	case lexer.TokIdent:
		if p.peekAt(1) == lexer.TokArrow {
			return p.parseLambda()
		}
		tok := p.advance()
		return &ast.Ident{Span: tok.Span, Name: tok.Value}

	default:
		p.unexpected()
		return nil
	}
}

// atLambdaParams matches `()` or `(a, b, ...)` followed by `->`.
func (p *parser) atLambdaParams() bool {
	i := 1
	if p.peekAt(i) == lexer.TokRParen {
		return p.peekAt(i+1) == lexer.TokArrow
	}
	for {
		if p.peekAt(i) != lexer.TokIdent {
			return false
		}
		i++
		switch p.peekAt(i) {
		case lexer.TokComma:
			i++
		case lexer.TokRParen:
			return p.peekAt(i+1) == lexer.TokArrow
		default:
			return false
		}
	}
}

func (p *parser) parseLambda() ast.Expr {
	start := p.current()
	var params []string
	if p.peek() == lexer.TokIdent {
		params = append(params, p.advance().Value)
	} else {
		p.advance() // consume '('
		for p.peek() != lexer.TokRParen {
			params = append(params, p.advance().Value)
			if p.peek() == lexer.TokComma {
				p.advance()
			}
		}
		p.advance() // consume ')'
	}
	seen := map[string]bool{}
	for _, name := range params {
		if seen[name] {
			p.addError(fmt.Sprintf("duplicate lambda parameter '%s'", name), &start.Span)
			return nil
		}
		seen[name] = true
	}
	arrow := p.advance() // consume '->'

	switch p.peek() {
	case lexer.TokNewline, lexer.TokIndent, lexer.TokColon, lexer.TokEOF:
		p.addError("lambda body must be a single expression on the same line", &arrow.Span)
		return nil
	}
	body := p.parseExpr()
	if body == nil {
		return nil
	}
	if p.peek() == lexer.TokColon && p.peekAt(1) == lexer.TokNewline {
		p.addError("lambda body must be a single expression; blocks are not allowed", &arrow.Span)
		return nil
	}
	return &ast.LambdaExpr{
		Span:     p.spanFromTo(start.Span, body.NodeSpan()),
		Params:   params,
		Body:     body,
		Captures: FreeVars(body, params),
	}
}
