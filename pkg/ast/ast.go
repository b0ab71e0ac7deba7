// Package ast defines the DPLang AST node types.
//
// Nodes are immutable once the parser returns them; a single *Script is
// shared by every row and every interpreter instance executing it.
package ast

// Span represents a source location range.
type Span struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	StartCol  int    `json:"startCol"`
	EndLine   int    `json:"endLine"`
	EndCol    int    `json:"endCol"`
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Kind() string
	NodeSpan() Span
}

// BinaryOp represents a binary operator.
type BinaryOp string

const (
	OpAdd  BinaryOp = "+"
	OpSub  BinaryOp = "-"
	OpMul  BinaryOp = "*"
	OpDiv  BinaryOp = "/"
	OpMod  BinaryOp = "%"
	OpPow  BinaryOp = "^"
	OpGt   BinaryOp = ">"
	OpLt   BinaryOp = "<"
	OpGtEq BinaryOp = ">="
	OpLtEq BinaryOp = "<="
	OpEqEq BinaryOp = "=="
	OpNeq  BinaryOp = "!="
	OpAnd  BinaryOp = "and"
	OpOr   BinaryOp = "or"
)

// IsComparison reports whether op is one of the six comparison operators.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpGt, OpLt, OpGtEq, OpLtEq, OpEqEq, OpNeq:
		return true
	}
	return false
}

// UnaryOp represents a unary operator.
type UnaryOp string

const (
	OpNeg UnaryOp = "-"
	OpNot UnaryOp = "not"
)

// ParamType is a declared type of a directive or function parameter.
type ParamType string

const (
	TypeAny     ParamType = ""
	TypeNumber  ParamType = "number"
	TypeDecimal ParamType = "decimal"
	TypeString  ParamType = "string"
	TypeBool    ParamType = "bool"
	TypeArray   ParamType = "array"
	TypeNull    ParamType = "null"
)

// ParamTypes lists every type name accepted in declarations.
var ParamTypes = map[string]ParamType{
	"number":  TypeNumber,
	"decimal": TypeDecimal,
	"string":  TypeString,
	"bool":    TypeBool,
	"array":   TypeArray,
	"null":    TypeNull,
}

// --- Expr is the interface for all expression nodes ---

type Expr interface {
	Node
	exprNode() // sealed marker
}

// --- Stmt is the interface for all statement nodes ---

type Stmt interface {
	Node
	stmtNode() // sealed marker
}

// --- Header is the interface for all directive nodes ---

type Header interface {
	Node
	headerNode() // sealed marker
}

// --- Literal Expressions ---

type NumberLiteral struct {
	Span  Span
	Value float64
	Raw   string
}

func (n *NumberLiteral) Kind() string   { return "NumberLiteral" }
func (n *NumberLiteral) NodeSpan() Span { return n.Span }
func (n *NumberLiteral) exprNode()      {}

type BoolLiteral struct {
	Span  Span
	Value bool
}

func (n *BoolLiteral) Kind() string   { return "BoolLiteral" }
func (n *BoolLiteral) NodeSpan() Span { return n.Span }
func (n *BoolLiteral) exprNode()      {}

type StrLiteral struct {
	Span  Span
	Value string
}

func (n *StrLiteral) Kind() string   { return "StrLiteral" }
func (n *StrLiteral) NodeSpan() Span { return n.Span }
func (n *StrLiteral) exprNode()      {}

type NullLiteral struct {
	Span Span
}

func (n *NullLiteral) Kind() string   { return "NullLiteral" }
func (n *NullLiteral) NodeSpan() Span { return n.Span }
func (n *NullLiteral) exprNode()      {}

// --- Identifiers ---

type Ident struct {
	Span Span
	Name string
}

func (n *Ident) Kind() string   { return "Ident" }
func (n *Ident) NodeSpan() Span { return n.Span }
func (n *Ident) exprNode()      {}

// MemberExpr is package member access: Object.Member.
type MemberExpr struct {
	Span   Span
	Object string
	Member string
}

func (n *MemberExpr) Kind() string   { return "MemberExpr" }
func (n *MemberExpr) NodeSpan() Span { return n.Span }
func (n *MemberExpr) exprNode()      {}

// --- Collections ---

type ArrayExpr struct {
	Span     Span
	Elements []Expr
}

func (n *ArrayExpr) Kind() string   { return "ArrayExpr" }
func (n *ArrayExpr) NodeSpan() Span { return n.Span }
func (n *ArrayExpr) exprNode()      {}

// SpreadExpr only appears as an element of an ArrayExpr.
type SpreadExpr struct {
	Span    Span
	Operand Expr
}

func (n *SpreadExpr) Kind() string   { return "SpreadExpr" }
func (n *SpreadExpr) NodeSpan() Span { return n.Span }
func (n *SpreadExpr) exprNode()      {}

// --- Operators ---

type BinaryExpr struct {
	Span  Span
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (n *BinaryExpr) Kind() string   { return "BinaryExpr" }
func (n *BinaryExpr) NodeSpan() Span { return n.Span }
func (n *BinaryExpr) exprNode()      {}

type UnaryExpr struct {
	Span    Span
	Op      UnaryOp
	Operand Expr
}

func (n *UnaryExpr) Kind() string   { return "UnaryExpr" }
func (n *UnaryExpr) NodeSpan() Span { return n.Span }
func (n *UnaryExpr) exprNode()      {}

type TernaryExpr struct {
	Span Span
	Cond Expr
	Then Expr
	Else Expr
}

func (n *TernaryExpr) Kind() string   { return "TernaryExpr" }
func (n *TernaryExpr) NodeSpan() Span { return n.Span }
func (n *TernaryExpr) exprNode()      {}

// PipeExpr threads Value through Stages left to right.
type PipeExpr struct {
	Span   Span
	Value  Expr
	Stages []Expr
}

func (n *PipeExpr) Kind() string   { return "PipeExpr" }
func (n *PipeExpr) NodeSpan() Span { return n.Span }
func (n *PipeExpr) exprNode()      {}

// --- Functions ---

// LambdaExpr is a single-expression anonymous function. Captures holds
// the free names of Body, in first-occurrence order.
type LambdaExpr struct {
	Span     Span
	Params   []string
	Body     Expr
	Captures []string
}

func (n *LambdaExpr) Kind() string   { return "LambdaExpr" }
func (n *LambdaExpr) NodeSpan() Span { return n.Span }
func (n *LambdaExpr) exprNode()      {}

type CallExpr struct {
	Span   Span
	Callee Expr // *Ident or *MemberExpr
	Args   []Expr
}

func (n *CallExpr) Kind() string   { return "CallExpr" }
func (n *CallExpr) NodeSpan() Span { return n.Span }
func (n *CallExpr) exprNode()      {}

// CalleeName renders the callee as "name" or "pkg.name".
func (n *CallExpr) CalleeName() string {
	switch c := n.Callee.(type) {
	case *Ident:
		return c.Name
	case *MemberExpr:
		return c.Object + "." + c.Member
	}
	return ""
}

// --- Index & slice ---

type IndexExpr struct {
	Span  Span
	Base  Expr
	Index Expr
}

func (n *IndexExpr) Kind() string   { return "IndexExpr" }
func (n *IndexExpr) NodeSpan() Span { return n.Span }
func (n *IndexExpr) exprNode()      {}

// SliceExpr is base[start:end]; either bound may be nil.
type SliceExpr struct {
	Span  Span
	Base  Expr
	Start Expr
	End   Expr
}

func (n *SliceExpr) Kind() string   { return "SliceExpr" }
func (n *SliceExpr) NodeSpan() Span { return n.Span }
func (n *SliceExpr) exprNode()      {}

// --- Statements ---

type AssignStmt struct {
	Span  Span
	Name  string
	Value Expr
}

func (n *AssignStmt) Kind() string   { return "AssignStmt" }
func (n *AssignStmt) NodeSpan() Span { return n.Span }
func (n *AssignStmt) stmtNode()      {}

// DestructureTarget is one slot of a destructuring pattern. Name "_"
// discards the element; Rest collects the remainder.
type DestructureTarget struct {
	Name string
	Rest bool
}

type DestructureStmt struct {
	Span    Span
	Targets []DestructureTarget
	Value   Expr
}

func (n *DestructureStmt) Kind() string   { return "DestructureStmt" }
func (n *DestructureStmt) NodeSpan() Span { return n.Span }
func (n *DestructureStmt) stmtNode()      {}

type ElifClause struct {
	Span Span
	Cond Expr
	Body []Stmt
}

type IfStmt struct {
	Span  Span
	Cond  Expr
	Then  []Stmt
	Elifs []ElifClause
	Else  []Stmt
}

func (n *IfStmt) Kind() string   { return "IfStmt" }
func (n *IfStmt) NodeSpan() Span { return n.Span }
func (n *IfStmt) stmtNode()      {}

type ReturnStmt struct {
	Span  Span
	Value Expr // nil for a bare return
}

func (n *ReturnStmt) Kind() string   { return "ReturnStmt" }
func (n *ReturnStmt) NodeSpan() Span { return n.Span }
func (n *ReturnStmt) stmtNode()      {}

type ExitStmt struct {
	Span Span
}

func (n *ExitStmt) Kind() string   { return "ExitStmt" }
func (n *ExitStmt) NodeSpan() Span { return n.Span }
func (n *ExitStmt) stmtNode()      {}

type ExprStmt struct {
	Span Span
	Expr Expr
}

func (n *ExprStmt) Kind() string   { return "ExprStmt" }
func (n *ExprStmt) NodeSpan() Span { return n.Span }
func (n *ExprStmt) stmtNode()      {}

// --- Function definitions ---

type Param struct {
	Span    Span
	Name    string
	Type    ParamType
	Default Expr // nil when required
}

type FnDecl struct {
	Span       Span
	Name       string
	Params     []Param
	ReturnType ParamType
	Body       []Stmt
}

func (n *FnDecl) Kind() string   { return "FnDecl" }
func (n *FnDecl) NodeSpan() Span { return n.Span }
func (n *FnDecl) stmtNode()      {}

// Required returns the number of leading parameters without defaults.
func (n *FnDecl) Required() int {
	for i, p := range n.Params {
		if p.Default != nil {
			return i
		}
	}
	return len(n.Params)
}

// --- Headers ---

type InputDecl struct {
	Span   Span
	Params []Param
}

func (n *InputDecl) Kind() string   { return "InputDecl" }
func (n *InputDecl) NodeSpan() Span { return n.Span }
func (n *InputDecl) headerNode()    {}

type OutputDecl struct {
	Span   Span
	Params []Param
}

func (n *OutputDecl) Kind() string   { return "OutputDecl" }
func (n *OutputDecl) NodeSpan() Span { return n.Span }
func (n *OutputDecl) headerNode()    {}

type ImportDecl struct {
	Span  Span
	Names []string
}

func (n *ImportDecl) Kind() string   { return "ImportDecl" }
func (n *ImportDecl) NodeSpan() Span { return n.Span }
func (n *ImportDecl) headerNode()    {}

type PrecisionDecl struct {
	Span   Span
	Digits int
}

func (n *PrecisionDecl) Kind() string   { return "PrecisionDecl" }
func (n *PrecisionDecl) NodeSpan() Span { return n.Span }
func (n *PrecisionDecl) headerNode()    {}

// --- Script ---

// ScriptKind distinguishes row-processing scripts from packages.
type ScriptKind string

const (
	DataScript    ScriptKind = "data"
	PackageScript ScriptKind = "package"
)

type Script struct {
	Span          Span
	ScriptKind    ScriptKind
	Name          string // package name; empty for data scripts
	Headers       []Header
	ErrorBlock    []Stmt
	HasErrorBlock bool
	ErrorSpan     Span
	Functions     []*FnDecl
	Body          []Stmt
}

func (n *Script) Kind() string   { return "Script" }
func (n *Script) NodeSpan() Span { return n.Span }

// Inputs returns every declared INPUT parameter in declaration order.
func (n *Script) Inputs() []Param {
	var out []Param
	for _, h := range n.Headers {
		if d, ok := h.(*InputDecl); ok {
			out = append(out, d.Params...)
		}
	}
	return out
}

// Outputs returns every declared OUTPUT parameter in declaration order.
func (n *Script) Outputs() []Param {
	var out []Param
	for _, h := range n.Headers {
		if d, ok := h.(*OutputDecl); ok {
			out = append(out, d.Params...)
		}
	}
	return out
}

// Imports returns imported package names without duplicates.
func (n *Script) Imports() []string {
	var out []string
	seen := map[string]bool{}
	for _, h := range n.Headers {
		if d, ok := h.(*ImportDecl); ok {
			for _, name := range d.Names {
				if !seen[name] {
					seen[name] = true
					out = append(out, name)
				}
			}
		}
	}
	return out
}

// Precision returns the last PRECISION directive, if any.
func (n *Script) Precision() (int, bool) {
	digits, ok := 0, false
	for _, h := range n.Headers {
		if d, isPrec := h.(*PrecisionDecl); isPrec {
			digits, ok = d.Digits, true
		}
	}
	return digits, ok
}
