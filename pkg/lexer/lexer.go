// Package lexer implements the DPLang tokenizer.
//
// Layout is significant: the lexer tracks an indentation stack and emits
// INDENT/DEDENT/NEWLINE tokens, and it recognizes `-- NAME ... --` header
// directive lines.
package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
)

// TokenType identifies the type of a lexer token.
type TokenType int

const (
	// Keywords
	TokIf TokenType = iota
	TokElif
	TokElse
	TokReturn
	TokPackage
	TokExit
	TokAnd
	TokOr
	TokNot
	TokTrue
	TokFalse
	TokNull

	// Literals
	TokNumber
	TokString

	// Identifiers
	TokIdent

	// Punctuation
	TokLBracket  // [
	TokRBracket  // ]
	TokLParen    // (
	TokRParen    // )
	TokColon     // :
	TokComma     // ,
	TokDotDotDot // ...
	TokDot       // .
	TokArrow     // ->
	TokEquals    // =
	TokQuestion  // ?
	TokPipe      // |>

	// Comparison operators
	TokGtEq   // >=
	TokLtEq   // <=
	TokEqEq   // ==
	TokBangEq // !=
	TokGt     // >
	TokLt     // <

	// Arithmetic operators
	TokPlus    // +
	TokMinus   // -
	TokStar    // *
	TokSlash   // /
	TokPercent // %
	TokCaret   // ^

	// Directives; Value holds the directive body.
	TokDirInput
	TokDirOutput
	TokDirImport
	TokDirPrecision
	TokDirError
	TokDirErrorEnd

	// Layout
	TokNewline
	TokIndent
	TokDedent

	// Special
	TokEOF
)

// TabWidth is the number of indentation columns a tab counts for.
const TabWidth = 4

// Token represents a single lexer token.
type Token struct {
	Type  TokenType
	Value string
	Span  ast.Span
}

var keywords = map[string]TokenType{
	"if":      TokIf,
	"elif":    TokElif,
	"else":    TokElse,
	"return":  TokReturn,
	"package": TokPackage,
	"exit":    TokExit,
	"and":     TokAnd,
	"or":      TokOr,
	"not":     TokNot,
	"true":    TokTrue,
	"false":   TokFalse,
	"null":    TokNull,
}

var tokenTypeNames = [...]string{
	TokIf: "IF", TokElif: "ELIF", TokElse: "ELSE", TokReturn: "RETURN",
	TokPackage: "PACKAGE", TokExit: "EXIT", TokAnd: "AND", TokOr: "OR",
	TokNot: "NOT", TokTrue: "TRUE", TokFalse: "FALSE", TokNull: "NULL",
	TokNumber: "NUMBER", TokString: "STRING", TokIdent: "IDENT",
	TokLBracket: "LBRACKET", TokRBracket: "RBRACKET", TokLParen: "LPAREN",
	TokRParen: "RPAREN", TokColon: "COLON", TokComma: "COMMA",
	TokDotDotDot: "SPREAD", TokDot: "DOT", TokArrow: "ARROW",
	TokEquals: "EQUALS", TokQuestion: "QUESTION", TokPipe: "PIPE",
	TokGtEq: "GTEQ", TokLtEq: "LTEQ", TokEqEq: "EQEQ", TokBangEq: "BANGEQ",
	TokGt: "GT", TokLt: "LT", TokPlus: "PLUS", TokMinus: "MINUS",
	TokStar: "STAR", TokSlash: "SLASH", TokPercent: "PERCENT", TokCaret: "CARET",
	TokDirInput: "INPUT", TokDirOutput: "OUTPUT", TokDirImport: "IMPORT",
	TokDirPrecision: "PRECISION", TokDirError: "ERROR", TokDirErrorEnd: "ERROR_END",
	TokNewline: "NEWLINE", TokIndent: "INDENT", TokDedent: "DEDENT", TokEOF: "EOF",
}

// String returns the token type's upper-case name, e.g. IDENT or INDENT.
func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenTypeNames) {
		return tokenTypeNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// IsKeyword reports whether name is reserved.
func IsKeyword(name string) bool {
	_, ok := keywords[name]
	return ok
}

// directives is ordered so that ERROR_END is tried before ERROR.
var directives = []struct {
	name string
	typ  TokenType
}{
	{"INPUT", TokDirInput},
	{"OUTPUT", TokDirOutput},
	{"IMPORT", TokDirImport},
	{"PRECISION", TokDirPrecision},
	{"ERROR_END", TokDirErrorEnd},
	{"ERROR", TokDirError},
}

type scanner struct {
	source   string
	filename string
	pos      int
	line     int
	col      int

	indents     []int
	parenDepth  int
	atLineStart bool
	tokens      []Token
}

func newScanner(source, filename string) *scanner {
	return &scanner{
		source:      source,
		filename:    filename,
		pos:         0,
		line:        1,
		col:         1,
		indents:     []int{0},
		atLineStart: true,
	}
}

func (s *scanner) atEnd() bool {
	return s.pos >= len(s.source)
}

func (s *scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.source[s.pos]
}

func (s *scanner) peekAt(offset int) byte {
	p := s.pos + offset
	if p >= len(s.source) {
		return 0
	}
	return s.source[p]
}

func (s *scanner) advance() byte {
	ch := s.source[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else if utf8.RuneStart(ch) {
		s.col++
	}
	return ch
}

func (s *scanner) span(startLine, startCol int) ast.Span {
	return ast.Span{
		File:      s.filename,
		StartLine: startLine,
		StartCol:  startCol,
		EndLine:   s.line,
		EndCol:    s.col,
	}
}

func (s *scanner) emit(typ TokenType, value string, span ast.Span) {
	s.tokens = append(s.tokens, Token{Type: typ, Value: value, Span: span})
}

// emitNewline ends a logical line unless nothing is pending.
func (s *scanner) emitNewline() {
	if len(s.tokens) == 0 {
		return
	}
	switch s.tokens[len(s.tokens)-1].Type {
	case TokNewline, TokIndent, TokDedent:
		return
	}
	s.emit(TokNewline, "", s.span(s.line, s.col))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// skipLine consumes the remainder of the current line including '\n'.
func (s *scanner) skipLine() {
	for !s.atEnd() && s.peek() != '\n' {
		s.advance()
	}
	if !s.atEnd() {
		s.advance()
	}
}

// handleIndent measures leading whitespace of a logical line and emits
// INDENT/DEDENT tokens. It reports false when the line was blank or a
// comment and has been consumed.
func (s *scanner) handleIndent() (bool, error) {
	width := 0
	for !s.atEnd() && (s.peek() == ' ' || s.peek() == '\t') {
		if s.advance() == '\t' {
			width += TabWidth
		} else {
			width++
		}
	}
	if s.atEnd() {
		return false, nil
	}
	switch s.peek() {
	case '\n', '\r', '#':
		s.skipLine()
		return false, nil
	}

	top := s.indents[len(s.indents)-1]
	switch {
	case width > top:
		s.indents = append(s.indents, width)
		s.emit(TokIndent, "", s.span(s.line, 1))
	case width < top:
		for len(s.indents) > 1 && s.indents[len(s.indents)-1] > width {
			s.indents = s.indents[:len(s.indents)-1]
			s.emitNewline()
			s.emit(TokDedent, "", s.span(s.line, 1))
		}
		if s.indents[len(s.indents)-1] != width {
			return false, s.lexErrorCode(diagnostics.EIndent, s.line, s.col,
				fmt.Sprintf("inconsistent indentation: %d columns does not match any enclosing block", width))
		}
	}
	return true, nil
}

func (s *scanner) scanDirective() error {
	startLine, startCol := s.line, s.col
	start := s.pos
	for !s.atEnd() && s.peek() != '\n' {
		s.advance()
	}
	text := strings.TrimSpace(s.source[start:s.pos])
	if len(text) < 4 || !strings.HasSuffix(text, "--") {
		return s.lexError(startLine, startCol, "unterminated directive: expected closing '--'")
	}
	body := strings.TrimSpace(text[2 : len(text)-2])
	for _, d := range directives {
		if !strings.HasPrefix(body, d.name) {
			continue
		}
		rest := body[len(d.name):]
		if rest != "" && rest[0] != ' ' && rest[0] != ':' && rest[0] != '\t' {
			continue
		}
		rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		s.emit(d.typ, rest, s.span(startLine, startCol))
		return nil
	}
	return s.lexError(startLine, startCol, fmt.Sprintf("unknown directive %q", body))
}

func (s *scanner) scanString() (Token, error) {
	startLine, startCol := s.line, s.col
	quote := s.advance() // consume opening quote

	var buf strings.Builder
	for !s.atEnd() {
		ch := s.peek()
		if ch == quote {
			s.advance() // consume closing quote
			return Token{
				Type:  TokString,
				Value: buf.String(),
				Span:  s.span(startLine, startCol),
			}, nil
		}
		if ch == '\\' {
			s.advance() // consume backslash
			if s.atEnd() {
				return Token{}, s.lexErrorCode(diagnostics.EUnterminatedString, startLine, startCol, "unterminated string literal")
			}
			esc := s.advance()
			switch esc {
			case '"':
				buf.WriteByte('"')
			case '\'':
				buf.WriteByte('\'')
			case '\\':
				buf.WriteByte('\\')
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'u':
				// \uXXXX
				if s.pos+4 > len(s.source) {
					return Token{}, s.lexError(startLine, startCol, "incomplete unicode escape")
				}
				hexStr := s.source[s.pos : s.pos+4]
				codepoint, err := strconv.ParseUint(hexStr, 16, 32)
				if err != nil {
					return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("invalid unicode escape: \\u%s", hexStr))
				}
				buf.WriteRune(rune(codepoint))
				for i := 0; i < 4; i++ {
					s.advance()
				}
			default:
				return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("invalid escape character: \\%c", esc))
			}
		} else if ch == '\n' {
			return Token{}, s.lexErrorCode(diagnostics.EUnterminatedString, startLine, startCol, "unterminated string literal")
		} else {
			r, size := utf8.DecodeRuneInString(s.source[s.pos:])
			if r == utf8.RuneError && size == 1 {
				return Token{}, s.lexError(startLine, startCol, "invalid UTF-8 character in string")
			}
			buf.WriteRune(r)
			for i := 0; i < size; i++ {
				s.advance()
			}
		}
	}
	return Token{}, s.lexErrorCode(diagnostics.EUnterminatedString, startLine, startCol, "unterminated string literal")
}

func (s *scanner) scanNumber() Token {
	startLine, startCol := s.line, s.col
	startPos := s.pos

	for !s.atEnd() && isDigit(s.peek()) {
		s.advance()
	}

	// Fractional part; a bare '.' is left for member access or '...'.
	if s.peek() == '.' && isDigit(s.peekAt(1)) {
		s.advance()
		for !s.atEnd() && isDigit(s.peek()) {
			s.advance()
		}
	}

	if e := s.peek(); e == 'e' || e == 'E' {
		next := s.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(s.peekAt(2))) {
			s.advance()
			if !isDigit(s.peek()) {
				s.advance()
			}
			for !s.atEnd() && isDigit(s.peek()) {
				s.advance()
			}
		}
	}

	return Token{
		Type:  TokNumber,
		Value: s.source[startPos:s.pos],
		Span:  s.span(startLine, startCol),
	}
}

func (s *scanner) scanIdentOrKeyword() Token {
	startLine, startCol := s.line, s.col
	startPos := s.pos

	for !s.atEnd() {
		r, size := utf8.DecodeRuneInString(s.source[s.pos:])
		if !isIdentPart(r) {
			break
		}
		for i := 0; i < size; i++ {
			s.advance()
		}
	}

	text := s.source[startPos:s.pos]
	if tokType, ok := keywords[text]; ok {
		return Token{Type: tokType, Value: text, Span: s.span(startLine, startCol)}
	}
	return Token{Type: TokIdent, Value: text, Span: s.span(startLine, startCol)}
}

func (s *scanner) lexError(line, col int, msg string) error {
	return s.lexErrorCode(diagnostics.ELex, line, col, msg)
}

func (s *scanner) lexErrorCode(code string, line, col int, msg string) error {
	diag := diagnostics.MakeDiag(
		code,
		msg,
		&ast.Span{File: s.filename, StartLine: line, StartCol: col, EndLine: line, EndCol: col + 1},
		"",
	)
	return &LexError{Diag: diag}
}

// LexError wraps a diagnostic for lex errors.
type LexError struct {
	Diag diagnostics.Diagnostic
}

func (e *LexError) Error() string {
	if e.Diag.Span != nil {
		return fmt.Sprintf("%s:%d:%d: %s", e.Diag.Span.File, e.Diag.Span.StartLine, e.Diag.Span.StartCol, e.Diag.Message)
	}
	return e.Diag.Message
}

func (s *scanner) nextToken() (Token, error) {
	ch := s.peek()
	startLine, startCol := s.line, s.col

	single := func(typ TokenType) (Token, error) {
		s.advance()
		return Token{Type: typ, Value: string(ch), Span: s.span(startLine, startCol)}, nil
	}

	switch ch {
	case '[':
		s.parenDepth++
		return single(TokLBracket)
	case ']':
		if s.parenDepth > 0 {
			s.parenDepth--
		}
		return single(TokRBracket)
	case '(':
		s.parenDepth++
		return single(TokLParen)
	case ')':
		if s.parenDepth > 0 {
			s.parenDepth--
		}
		return single(TokRParen)
	case ':':
		return single(TokColon)
	case ',':
		return single(TokComma)
	case '?':
		return single(TokQuestion)
	case '+':
		return single(TokPlus)
	case '*':
		return single(TokStar)
	case '/':
		return single(TokSlash)
	case '%':
		return single(TokPercent)
	case '^':
		return single(TokCaret)
	}

	two := func(typ TokenType, text string) (Token, error) {
		s.advance()
		s.advance()
		return Token{Type: typ, Value: text, Span: s.span(startLine, startCol)}, nil
	}

	switch ch {
	case '-':
		if s.peekAt(1) == '>' {
			return two(TokArrow, "->")
		}
		return single(TokMinus)
	case '.':
		if s.peekAt(1) == '.' && s.peekAt(2) == '.' {
			s.advance()
			s.advance()
			s.advance()
			return Token{Type: TokDotDotDot, Value: "...", Span: s.span(startLine, startCol)}, nil
		}
		return single(TokDot)
	case '=':
		if s.peekAt(1) == '=' {
			return two(TokEqEq, "==")
		}
		return single(TokEquals)
	case '!':
		if s.peekAt(1) == '=' {
			return two(TokBangEq, "!=")
		}
		s.advance()
		return Token{}, s.lexError(startLine, startCol, "unexpected character '!'; use 'not' for negation")
	case '>':
		if s.peekAt(1) == '=' {
			return two(TokGtEq, ">=")
		}
		return single(TokGt)
	case '<':
		if s.peekAt(1) == '=' {
			return two(TokLtEq, "<=")
		}
		return single(TokLt)
	case '|':
		if s.peekAt(1) == '>' {
			return two(TokPipe, "|>")
		}
		s.advance()
		return Token{}, s.lexError(startLine, startCol, "unexpected character '|'; did you mean '|>'?")
	}

	if isDigit(ch) {
		return s.scanNumber(), nil
	}

	if ch == '"' || ch == '\'' {
		return s.scanString()
	}

	r, _ := utf8.DecodeRuneInString(s.source[s.pos:])
	if isIdentStart(r) {
		return s.scanIdentOrKeyword(), nil
	}

	s.advance()
	return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("unexpected character '%c'", r))
}

// Tokenize breaks source code into a slice of tokens. The source is
// NFC-normalized first so identifiers compare by canonical form.
func Tokenize(source, filename string) ([]Token, error) {
	s := newScanner(norm.NFC.String(source), filename)

	for {
		if s.atLineStart && s.parenDepth == 0 {
			live, err := s.handleIndent()
			if err != nil {
				return nil, err
			}
			if !live {
				if s.atEnd() {
					break
				}
				continue
			}
			s.atLineStart = false
			if s.peek() == '-' && s.peekAt(1) == '-' {
				if err := s.scanDirective(); err != nil {
					return nil, err
				}
				continue
			}
		}

		ch := s.peek()
		if s.atEnd() {
			break
		}
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r':
			s.advance()
			continue
		case ch == '#':
			for !s.atEnd() && s.peek() != '\n' {
				s.advance()
			}
			continue
		case ch == '\\' && s.peekAt(1) == '\n':
			s.advance()
			s.advance()
			continue
		case ch == '\n':
			s.advance()
			if s.parenDepth == 0 {
				s.emitNewline()
				s.atLineStart = true
			}
			continue
		}

		tok, err := s.nextToken()
		if err != nil {
			return nil, err
		}
		s.tokens = append(s.tokens, tok)
	}

	s.emitNewline()
	for len(s.indents) > 1 {
		s.indents = s.indents[:len(s.indents)-1]
		s.emit(TokDedent, "", s.span(s.line, s.col))
	}
	s.emit(TokEOF, "", s.span(s.line, s.col))
	return s.tokens, nil
}
