package demo

import "github.com/chazu/pmachine/ast"

// Shorthands for building trees by hand.

func num(v float64) *ast.Number      { return &ast.Number{Value: v} }
func str(s string) *ast.StringLit    { return &ast.StringLit{Value: s} }
func toReal(x ast.Expr) *ast.Cast    { return &ast.Cast{X: x, To: ast.Real} }
func deref(x ast.Expr) *ast.Deref    { return &ast.Deref{X: x} }
func block(s ...ast.Stmt) *ast.Block { return &ast.Block{Stmts: s} }

func assign(lhs, rhs ast.Expr) *ast.Assign {
	return &ast.Assign{LHS: lhs, RHS: rhs}
}

func arith(op ast.BinaryOp, lhs, rhs ast.Expr, t ast.Type) *ast.Binary {
	return &ast.Binary{Op: op, LHS: lhs, RHS: rhs, Typ: t}
}

func intOp(op ast.BinaryOp, lhs, rhs ast.Expr) *ast.Binary {
	return arith(op, lhs, rhs, ast.Integer)
}

func cmp(op ast.BinaryOp, lhs, rhs ast.Expr) *ast.Binary {
	return arith(op, lhs, rhs, ast.Boolean)
}

func index(x ast.Expr, indices ...ast.Expr) *ast.Index {
	return &ast.Index{X: x, Indices: indices}
}

func field(x ast.Expr, rt *ast.RecordType, name string) *ast.FieldSel {
	f, ok := rt.Field(name)
	if !ok {
		panic("demo: no field " + name)
	}
	return &ast.FieldSel{X: x, Field: f}
}

func forTo(v *ast.Ident, from, to ast.Expr, body ast.Stmt) *ast.For {
	return &ast.For{Var: v, From: from, To: to, Body: body}
}

// call passes every argument by value.
func call(sc *ast.Scope, name string, args ...ast.Expr) *ast.Call {
	c := &ast.Call{Callee: sc.Ident(name)}
	for _, a := range args {
		c.Args = append(c.Args, ast.Arg{X: a})
	}
	return c
}

// callRef passes the first argument by reference.
func callRef(sc *ast.Scope, name string, v ast.Expr, args ...ast.Expr) *ast.Call {
	c := call(sc, name, args...)
	c.Args = append([]ast.Arg{{X: v, ByRef: true}}, c.Args...)
	return c
}

func writeLn(sc *ast.Scope, args ...ast.Expr) *ast.Call {
	return call(sc, "WriteLn", args...)
}

func program(root *ast.Scope, body *ast.Block, nested ...*ast.Subprogram) *ast.Program {
	main := root.Subprogram(ast.KindProgram, nil, body, nested...)
	main.Name = "main"
	return &ast.Program{Main: main, Natives: root.Natives()}
}
