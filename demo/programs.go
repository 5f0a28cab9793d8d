package demo

import (
	"github.com/chazu/pmachine/ast"
	"github.com/chazu/pmachine/builtin"
	"github.com/chazu/pmachine/bytecode"
)

func init() {
	register(Program{
		Name:        "count",
		Description: "for i := 1 to 3 do WriteLn(i)",
		Output:      []string{"1", "2", "3"},
		build:       count,
	})
	register(Program{
		Name:        "countdown",
		Description: "downto loop with a Delay between lines",
		Output:      []string{"3", "2", "1"},
		build:       countdown,
	})
	register(Program{
		Name:        "factorial",
		Description: "recursive function returning an integer",
		Output:      []string{"Fact 1 = 1", "Fact 2 = 2", "Fact 3 = 6", "Fact 4 = 24", "Fact 5 = 120", "Fact 6 = 720"},
		build:       factorial,
	})
	register(Program{
		Name:        "matrix",
		Description: "two-dimensional array filled and summed in row-major order",
		Output:      []string{"21", "sum = 129"},
		build:       matrix,
	})
	register(Program{
		Name:        "records",
		Description: "record fields, alone and inside an array",
		Output:      []string{"pts[2].y = 7", "pts[1].x = 14"},
		build:       records,
	})
	register(Program{
		Name:        "pointers",
		Description: "New, dereference and Dispose",
		Output:      []string{"42 43", "TRUE"},
		build:       pointers,
	})
	register(Program{
		Name:        "primes",
		Description: "typed constant array read by while and repeat loops",
		Output:      []string{"sum = 28", "11", "7"},
		build:       primes,
	})
	register(Program{
		Name:        "nested",
		Description: "nested procedure updating its parent's variable, with exit",
		Output:      []string{"inner 1", "inner 2", "outer done 3"},
		build:       nested,
	})
	register(Program{
		Name:        "reals",
		Description: "real division and the math builtins",
		Output:      []string{"r = 0.25", "314", "3", "TRUE"},
		build:       reals,
	})
	register(Program{
		Name:        "echo",
		Description: "ReadLn a line and write it back",
		Input:       []string{"hello"},
		Output:      []string{"you said: hello"},
		build:       echo,
	})
	register(Program{
		Name:        "divzero",
		Description: "x := 1 div 0 stops the machine before the WriteLn",
		build:       divzero,
	})
}

func count(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("i", ast.Integer)
	return program(root, block(
		forTo(root.Ident("i"), num(1), num(3), writeLn(root, root.Ident("i"))),
	))
}

func countdown(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("i", ast.Integer)
	loop := forTo(root.Ident("i"), num(3), num(1), block(
		writeLn(root, root.Ident("i")),
		call(root, "Delay", num(5)),
	))
	loop.Downto = true
	return program(root, block(loop))
}

func factorial(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("i", ast.Integer)

	sym := root.AddSubprogram("Fact", &ast.SubprogramType{
		Params: []ast.Param{{Name: "n", Type: ast.Integer}},
		Result: ast.Integer,
	})
	sc := ast.NewScope(root)
	sc.AddParam("n", ast.Integer, false)
	sc.AddResult("Fact", ast.Integer)
	n := func() *ast.Ident { return sc.Ident("n") }
	fact := sc.Subprogram(ast.KindFunction, sym, block(
		&ast.If{
			Cond: cmp(ast.OpLe, n(), num(1)),
			Then: assign(sc.Result(), num(1)),
			Else: assign(sc.Result(), intOp(ast.OpMul, n(), call(sc, "Fact", intOp(ast.OpSub, n(), num(1))))),
		},
	))

	i := func() *ast.Ident { return root.Ident("i") }
	return program(root, block(
		forTo(i(), num(1), num(6), writeLn(root, str("Fact"), i(), str("="), call(root, "Fact", i()))),
	), fact)
}

func matrix(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("m", &ast.ArrayType{Ranges: []ast.Range{{Low: 1, High: 3}, {Low: 1, High: 2}}, Elem: ast.Integer})
	root.AddVar("i", ast.Integer)
	root.AddVar("j", ast.Integer)
	root.AddVar("sum", ast.Integer)
	v := root.Ident

	return program(root, block(
		forTo(v("i"), num(1), num(3), forTo(v("j"), num(1), num(2),
			assign(index(v("m"), v("i"), v("j")), intOp(ast.OpAdd, intOp(ast.OpMul, v("i"), num(10)), v("j"))),
		)),
		assign(v("sum"), num(0)),
		forTo(v("i"), num(1), num(3), forTo(v("j"), num(1), num(2),
			assign(v("sum"), intOp(ast.OpAdd, v("sum"), index(v("m"), v("i"), v("j")))),
		)),
		writeLn(root, index(v("m"), num(2), num(1))),
		writeLn(root, str("sum ="), v("sum")),
	))
}

func records(natives *bytecode.Registry) *ast.Program {
	point := ast.NewRecordType(
		ast.FieldDecl{Name: "x", Type: ast.Integer},
		ast.FieldDecl{Name: "y", Type: ast.Integer},
	)
	root := ast.NewRootScope(natives)
	root.AddVar("p", point)
	root.AddVar("pts", &ast.ArrayType{Ranges: []ast.Range{{Low: 1, High: 2}}, Elem: point})
	p := func(name string) *ast.FieldSel { return field(root.Ident("p"), point, name) }
	pts := func(i float64, name string) *ast.FieldSel {
		return field(index(root.Ident("pts"), num(i)), point, name)
	}

	return program(root, block(
		assign(p("x"), num(3)),
		assign(p("y"), num(4)),
		assign(pts(2, "y"), intOp(ast.OpAdd, p("x"), p("y"))),
		assign(pts(1, "x"), intOp(ast.OpMul, pts(2, "y"), num(2))),
		writeLn(root, str("pts[2].y ="), pts(2, "y")),
		writeLn(root, str("pts[1].x ="), pts(1, "x")),
	))
}

func pointers(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("p", ast.PointerTo(ast.Integer))
	root.AddVar("q", ast.PointerTo(ast.Integer))
	v := root.Ident

	return program(root, block(
		callRef(root, "New", v("p"), num(1)),
		assign(deref(v("p")), num(42)),
		callRef(root, "New", v("q"), num(1)),
		assign(deref(v("q")), intOp(ast.OpAdd, deref(v("p")), num(1))),
		writeLn(root, deref(v("p")), deref(v("q"))),
		callRef(root, "Dispose", v("q")),
		callRef(root, "Dispose", v("p")),
		writeLn(root, cmp(ast.OpEq, v("p"), &ast.NilLit{})),
	))
}

func primes(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	table := root.AddTypedConst("primes", &ast.ArrayType{Ranges: []ast.Range{{Low: 1, High: 5}}, Elem: ast.Integer},
		bytecode.Int(2), bytecode.Int(3), bytecode.Int(5), bytecode.Int(7), bytecode.Int(11))
	root.AddVar("i", ast.Integer)
	root.AddVar("sum", ast.Integer)
	v := root.Ident

	prog := program(root, block(
		assign(v("sum"), num(0)),
		assign(v("i"), num(1)),
		&ast.While{
			Cond: cmp(ast.OpLe, v("i"), num(5)),
			Body: block(
				assign(v("sum"), intOp(ast.OpAdd, v("sum"), index(v("primes"), v("i")))),
				assign(v("i"), intOp(ast.OpAdd, v("i"), num(1))),
			),
		},
		writeLn(root, str("sum ="), v("sum")),
		assign(v("i"), num(5)),
		&ast.Repeat{
			Body: block(
				writeLn(root, index(v("primes"), v("i"))),
				assign(v("i"), intOp(ast.OpSub, v("i"), num(1))),
			),
			Cond: cmp(ast.OpLt, v("i"), num(4)),
		},
	))
	prog.Main.TypedConsts = []*ast.TypedConst{table}
	return prog
}

func nested(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	outerSym := root.AddSubprogram("Outer", &ast.SubprogramType{Result: ast.Void})

	outerScope := ast.NewScope(root)
	outerScope.AddVar("k", ast.Integer)
	innerSym := outerScope.AddSubprogram("Inner", &ast.SubprogramType{Result: ast.Void})

	innerScope := ast.NewScope(outerScope)
	k := innerScope.Ident
	inner := innerScope.Subprogram(ast.KindProcedure, innerSym, block(
		assign(k("k"), intOp(ast.OpAdd, k("k"), num(1))),
		&ast.If{Cond: cmp(ast.OpGt, k("k"), num(2)), Then: &ast.Exit{}},
		writeLn(innerScope, str("inner"), k("k")),
	))

	outer := outerScope.Subprogram(ast.KindProcedure, outerSym, block(
		assign(outerScope.Ident("k"), num(0)),
		call(outerScope, "Inner"),
		call(outerScope, "Inner"),
		call(outerScope, "Inner"),
		writeLn(outerScope, str("outer done"), outerScope.Ident("k")),
	), inner)

	return program(root, block(call(root, "Outer")), outer)
}

func reals(natives *bytecode.Registry) *ast.Program {
	pi, _ := builtin.Constant("Pi")
	root := ast.NewRootScope(natives)
	root.AddVar("r", ast.Real)
	v := root.Ident

	return program(root, block(
		assign(v("r"), arith(ast.OpDiv, toReal(num(1)), toReal(num(4)), ast.Real)),
		writeLn(root, str("r ="), v("r")),
		writeLn(root, call(root, "Round", arith(ast.OpMul, num(pi.F), toReal(num(100)), ast.Real))),
		writeLn(root, call(root, "Trunc", call(root, "Sqrt", num(10)))),
		writeLn(root, call(root, "Odd", num(7))),
	))
}

func echo(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("s", ast.String)
	return program(root, block(
		assign(root.Ident("s"), call(root, "ReadLn")),
		writeLn(root, str("you said:"), root.Ident("s")),
	))
}

func divzero(natives *bytecode.Registry) *ast.Program {
	root := ast.NewRootScope(natives)
	root.AddVar("x", ast.Integer)
	return program(root, block(
		assign(root.Ident("x"), intOp(ast.OpIntDiv, num(1), num(0))),
		writeLn(root, str("x ="), root.Ident("x")),
	))
}
