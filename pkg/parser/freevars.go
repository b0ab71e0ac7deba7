package parser

import "github.com/thomasrohde/dplang/pkg/ast"

// FreeVars returns the names referenced by expr that are not bound by
// params, in first-occurrence order. Package names used in member access
// are not free variables.
func FreeVars(expr ast.Expr, params []string) []string {
	bound := make(map[string]bool, len(params))
	for _, p := range params {
		bound[p] = true
	}
	c := &freeVarCollector{bound: bound, seen: map[string]bool{}}
	c.walk(expr)
	return c.names
}

type freeVarCollector struct {
	bound map[string]bool
	seen  map[string]bool
	names []string
}

func (c *freeVarCollector) add(name string) {
	if c.bound[name] || c.seen[name] {
		return
	}
	c.seen[name] = true
	c.names = append(c.names, name)
}

func (c *freeVarCollector) walk(expr ast.Expr) {
	switch e := expr.(type) {
	case nil:
	case *ast.Ident:
		c.add(e.Name)
	case *ast.ArrayExpr:
		for _, el := range e.Elements {
			c.walk(el)
		}
	case *ast.SpreadExpr:
		c.walk(e.Operand)
	case *ast.BinaryExpr:
		c.walk(e.Left)
		c.walk(e.Right)
	case *ast.UnaryExpr:
		c.walk(e.Operand)
	case *ast.TernaryExpr:
		c.walk(e.Cond)
		c.walk(e.Then)
		c.walk(e.Else)
	case *ast.PipeExpr:
		c.walk(e.Value)
		for _, s := range e.Stages {
			c.walk(s)
		}
	case *ast.LambdaExpr:
		// Inner captures were computed against the inner params already.
		for _, name := range e.Captures {
			c.add(name)
		}
	case *ast.CallExpr:
		c.walk(e.Callee)
		for _, a := range e.Args {
			c.walk(a)
		}
	case *ast.IndexExpr:
		c.walk(e.Base)
		c.walk(e.Index)
	case *ast.SliceExpr:
		c.walk(e.Base)
		c.walk(e.Start)
		c.walk(e.End)
	}
}
