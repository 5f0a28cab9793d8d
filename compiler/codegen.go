// Package compiler lowers resolved syntax trees to p-machine bytecode images.
package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/pmachine/ast"
	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

var log = commonlog.GetLogger("pmachine.compiler")

// ---------------------------------------------------------------------------
// Codegen: lower a resolved tree to p-machine bytecode
// ---------------------------------------------------------------------------

// Compiler lowers a resolved program to a bytecode image in a single walk.
type Compiler struct {
	image  *bytecode.Image
	errors []*CompileError

	// Stack of pending Exit jumps, one list per subprogram being compiled.
	exits [][]int

	// Entry address of each subprogram emitted so far, and the CUP
	// instructions waiting for subprograms not emitted yet.
	entries  map[*ast.Symbol]int
	pending  map[*ast.Symbol][]int
	calledAt map[*ast.Symbol]ast.Pos
}

// New creates a compiler.
func New() *Compiler {
	return &Compiler{}
}

// Compile lowers program with a fresh compiler.
func Compile(program *ast.Program) (*bytecode.Image, error) {
	return New().Compile(program)
}

// Errors returns the errors collected by the last Compile.
func (c *Compiler) Errors() []*CompileError {
	return c.errors
}

// errorf records a compilation error.
func (c *Compiler) errorf(pos ast.Pos, format string, args ...interface{}) {
	c.errors = append(c.errors, &CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (c *Compiler) wrap(pos ast.Pos, err error) {
	c.errors = append(c.errors, &CompileError{Pos: pos, Msg: err.Error(), Err: err})
}

// Compile lowers program and returns a frozen image. On failure no image is
// returned and the error is the first one found; Errors lists all of them.
func (c *Compiler) Compile(program *ast.Program) (*bytecode.Image, error) {
	c.errors = nil
	c.exits = nil
	c.entries = make(map[*ast.Symbol]int)
	c.pending = make(map[*ast.Symbol][]int)
	c.calledAt = make(map[*ast.Symbol]ast.Pos)

	if program == nil || program.Main == nil {
		return nil, &CompileError{Msg: "no program to compile"}
	}
	c.image = bytecode.NewImage(program.Natives)

	main := c.compileSubprogram(program.Main)

	for sym, addrs := range c.pending {
		if len(addrs) > 0 {
			c.errorf(c.calledAt[sym], "call to %s, which has no body", sym.Name)
		}
	}

	// The synthetic top-level call sequence.
	if err := c.image.SetStartAddress(c.image.NextAddress()); err != nil {
		c.wrap(ast.Pos{}, err)
	}
	c.emit(ast.Pos{}, inst.MST, 0, 0, "start of program -----------------")
	c.emit(ast.Pos{}, inst.CUP, 0, main, "call main program")
	c.emit(ast.Pos{}, inst.STP, 0, 0, "program end")

	if len(c.errors) > 0 {
		log.Debugf("compile failed with %d errors", len(c.errors))
		return nil, c.errors[0]
	}

	im := c.image
	im.Freeze()
	c.image = nil
	log.Debugf("compiled %s: %d instructions, %d constants, %d typed constant words",
		program.Main.Name, im.Len(), len(im.Constants()), im.TypedConstantsLen())
	return im, nil
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

// emit appends an instruction and returns its address, or -1 on error.
func (c *Compiler) emit(pos ast.Pos, op inst.Opcode, operand1, operand2 int, comment string) int {
	addr, err := c.image.Emit(op, operand1, operand2, comment)
	if err != nil {
		c.wrap(pos, err)
		return -1
	}
	return addr
}

// patch points the instruction at addr to target.
func (c *Compiler) patch(pos ast.Pos, addr, target int) {
	if addr < 0 {
		return
	}
	if err := c.image.SetOperand2(addr, target); err != nil {
		c.wrap(pos, err)
	}
}

func (c *Compiler) constant(pos ast.Pos, v bytecode.Value) int {
	idx, err := c.image.AddConstant(v)
	if err != nil {
		c.wrap(pos, err)
	}
	return idx
}

func (c *Compiler) beginExitFrame() {
	c.exits = append(c.exits, nil)
}

func (c *Compiler) addExit(addr int) bool {
	if len(c.exits) == 0 {
		return false
	}
	top := len(c.exits) - 1
	c.exits[top] = append(c.exits[top], addr)
	return true
}

func (c *Compiler) endExitFrame() []int {
	top := len(c.exits) - 1
	addrs := c.exits[top]
	c.exits = c.exits[:top]
	return addrs
}

// ---------------------------------------------------------------------------
// Subprograms
// ---------------------------------------------------------------------------

// compileSubprogram emits nested subprograms first, then the entry code,
// typed constant initialisation, body and a single return. It returns the
// entry address.
func (c *Compiler) compileSubprogram(sub *ast.Subprogram) int {
	c.beginExitFrame()

	for _, nested := range sub.Subprograms {
		c.compileSubprogram(nested)
	}

	entry := c.image.NextAddress()
	if sub.Sym != nil {
		c.entries[sub.Sym] = entry
		for _, addr := range c.pending[sub.Sym] {
			c.patch(sub.Pos, addr, entry)
		}
		delete(c.pending, sub.Sym)
	}
	c.emit(sub.Pos, inst.ENT, inst.RegSP, sub.FrameSize(), fmt.Sprintf("start of %s -----------------", sub.Name))

	for _, tc := range sub.TypedConsts {
		c.compileTypedConst(tc)
	}

	if sub.Body != nil {
		c.compileStmt(sub.Body)
	}

	exits := c.endExitFrame()
	rtn := c.image.NextAddress()
	code := inst.P
	if sub.Kind == ast.KindFunction {
		rc, ok := ast.SimpleCode(sub.Result)
		if !ok {
			c.errorf(sub.Pos, "function %s must return a simple type, not %v", sub.Name, sub.Result)
		}
		code = rc
	}
	c.emit(sub.Pos, inst.RTN, int(code), 0, "end of "+sub.Name)
	for _, addr := range exits {
		c.patch(sub.Pos, addr, rtn)
	}
	return entry
}

// compileTypedConst copies each word of the constant from the typed
// constant area into the variable slot.
func (c *Compiler) compileTypedConst(tc *ast.TypedConst) {
	codes := tc.Codes()
	if len(codes) != len(tc.Data) {
		c.errorf(tc.Pos, "typed constant %s has %d words of data, its type needs %d",
			tc.Sym.Name, len(tc.Data), len(codes))
		return
	}
	base, err := c.image.AddTypedConstants(tc.Data)
	if err != nil {
		c.wrap(tc.Pos, err)
		return
	}
	for i, code := range codes {
		c.emit(tc.Pos, inst.LDA, 0, tc.Sym.Address+i,
			fmt.Sprintf("address of %s on stack (element %d)", tc.Sym.Name, i))
		cidx := c.constant(tc.Pos, bytecode.Address(base+i))
		c.emit(tc.Pos, inst.LDC, int(inst.A), cidx,
			fmt.Sprintf("address of %s in const area (element %d)", tc.Sym.Name, i))
		c.emit(tc.Pos, inst.LDI, int(code), 0, "value of element")
		c.emit(tc.Pos, inst.STI, int(code), 0, "write value")
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case nil:
	case *ast.Block:
		for _, inner := range s.Stmts {
			c.compileStmt(inner)
		}
	case *ast.Assign:
		c.compileAssign(s)
	case *ast.Call:
		if sig, ok := s.Callee.Sym.Type.(*ast.SubprogramType); ok && !ast.IsVoid(sig.Result) {
			c.errorf(s.Pos, "function %s called as a statement", s.Callee.Sym.Name)
			return
		}
		c.compileCall(s)
	case *ast.If:
		c.compileIf(s)
	case *ast.While:
		c.compileWhile(s)
	case *ast.Repeat:
		c.compileRepeat(s)
	case *ast.For:
		c.compileFor(s)
	case *ast.Exit:
		addr := c.emit(s.Pos, inst.UJP, 0, 0, "return from function/procedure")
		if !c.addExit(addr) {
			c.errorf(s.Pos, "exit outside of a subprogram")
		}
	default:
		c.errorf(stmt.Position(), "unknown statement type: %T", stmt)
	}
}

func (c *Compiler) compileAssign(s *ast.Assign) {
	c.compileAddress(s.LHS)
	c.compileExpr(s.RHS)
	code, ok := ast.SimpleCode(s.RHS.Type())
	if !ok {
		c.errorf(s.Pos, "cannot assign a value of type %v", s.RHS.Type())
		return
	}
	c.emit(s.Pos, inst.STI, int(code), 0, "store into "+describe(s.LHS))
}

func (c *Compiler) compileIf(s *ast.If) {
	hasElse := s.Else != nil

	c.compileExpr(s.Cond)
	comment := "false, jump past body"
	if hasElse {
		comment = "false, jump to else"
	}
	skipThen := c.emit(s.Pos, inst.FJP, 0, 0, comment)

	c.compileStmt(s.Then)
	skipElse := -1
	if hasElse {
		skipElse = c.emit(s.Pos, inst.UJP, 0, 0, "jump past else")
	}

	c.patch(s.Pos, skipThen, c.image.NextAddress())
	if hasElse {
		c.compileStmt(s.Else)
		c.patch(s.Pos, skipElse, c.image.NextAddress())
	}
}

func (c *Compiler) compileWhile(s *ast.While) {
	top := c.image.NextAddress()
	c.compileExpr(s.Cond)
	c.image.AddComment(top, "top of while loop")
	exit := c.emit(s.Pos, inst.FJP, 0, 0, "if false, exit while loop")
	c.compileStmt(s.Body)
	c.emit(s.Pos, inst.UJP, 0, top, "jump to top of while loop")
	c.patch(s.Pos, exit, c.image.NextAddress())
}

func (c *Compiler) compileRepeat(s *ast.Repeat) {
	top := c.image.NextAddress()
	if s.Body != nil {
		c.compileStmt(s.Body)
	}
	c.image.AddComment(top, "top of repeat loop")
	c.compileExpr(s.Cond)
	c.emit(s.Pos, inst.FJP, 0, top, "jump to top of repeat")
}

func (c *Compiler) compileFor(s *ast.For) {
	code, ok := ast.SimpleCode(s.Var.Type())
	if !ok {
		c.errorf(s.Pos, "for loop variable %s must be ordinal", s.Var.Sym.Name)
		return
	}
	name := s.Var.Sym.Name

	c.compileAddress(s.Var)
	c.compileExpr(s.From)
	c.emit(s.Pos, inst.STI, int(code), 0, "store into "+name)

	top := c.image.NextAddress()
	c.compileExpr(s.Var)
	c.compileExpr(s.To)
	test := inst.GRT
	if s.Downto {
		test = inst.LES
	}
	c.emit(s.Pos, test, int(code), 0, "see if we're done with the loop")
	done := c.emit(s.Pos, inst.TJP, 0, 0, "yes, jump to end")

	c.compileStmt(s.Body)

	c.compileAddress(s.Var)
	c.compileExpr(s.Var)
	if s.Downto {
		c.emit(s.Pos, inst.DEC, int(code), 0, "decrement loop variable")
	} else {
		c.emit(s.Pos, inst.INC, int(code), 0, "increment loop variable")
	}
	c.emit(s.Pos, inst.STI, int(code), 0, "store into "+name)
	c.emit(s.Pos, inst.UJP, 0, top, "jump to top of loop")

	c.patch(s.Pos, done, c.image.NextAddress())
}

// compileCall emits a user call (MST, arguments, CUP) or a native call
// (arguments, CSP). A function result stays on the stack for the enclosing
// expression, so compileStmt rejects functions in statement position.
func (c *Compiler) compileCall(call *ast.Call) {
	sym := call.Callee.Sym
	sig, ok := sym.Type.(*ast.SubprogramType)
	if !ok {
		c.errorf(call.Pos, "%s is not a procedure or function", sym.Name)
		return
	}
	kind := "procedure"
	if !ast.IsVoid(sig.Result) {
		kind = "function"
	}

	switch sym.Kind {
	case ast.SymNative:
	case ast.SymSubprogram:
		c.emit(call.Pos, inst.MST, call.Callee.Level, 0, "set up mark for "+kind)
	default:
		c.errorf(call.Pos, "cannot call %s %s", sym.Kind, sym.Name)
		return
	}

	for _, arg := range call.Args {
		if arg.ByRef {
			c.compileAddress(arg.X)
		} else {
			c.compileExpr(arg.X)
		}
	}

	if sym.IsNative() {
		c.emit(call.Pos, inst.CSP, len(call.Args), sym.Address, fmt.Sprintf("call system %s %s", kind, sym.Name))
		return
	}

	target, known := c.entries[sym]
	addr := c.emit(call.Pos, inst.CUP, sig.ParamWords(), target, "call "+sym.Name)
	if !known && addr >= 0 {
		c.pending[sym] = append(c.pending[sym], addr)
		if _, seen := c.calledAt[sym]; !seen {
			c.calledAt[sym] = call.Pos
		}
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.Number:
		if e.IsInteger() {
			cidx := c.constant(e.Pos, bytecode.Int64(int64(e.Value)))
			c.emit(e.Pos, inst.LDC, int(inst.I), cidx, fmt.Sprintf("constant value %d", int64(e.Value)))
		} else {
			cidx := c.constant(e.Pos, bytecode.Real(e.Value))
			c.emit(e.Pos, inst.LDC, int(inst.R), cidx, fmt.Sprintf("constant value %g", e.Value))
		}
	case *ast.StringLit:
		cidx := c.constant(e.Pos, bytecode.String(e.Value))
		c.emit(e.Pos, inst.LDC, int(inst.S), cidx, fmt.Sprintf("string '%s'", e.Value))
	case *ast.CharLit:
		c.emit(e.Pos, inst.LDC, int(inst.C), int(e.Value), fmt.Sprintf("char '%c'", e.Value))
	case *ast.BoolLit:
		v := 0
		if e.Value {
			v = 1
		}
		c.emit(e.Pos, inst.LDC, int(inst.B), v, fmt.Sprintf("boolean %t", e.Value))
	case *ast.NilLit:
		cidx := c.constant(e.Pos, bytecode.Nil)
		c.emit(e.Pos, inst.LDC, int(inst.A), cidx, "nil pointer")
	case *ast.Ident:
		c.compileIdent(e)
	case *ast.Index:
		c.compileAddress(e)
		c.loadIndirect(e, "load value of array element")
	case *ast.FieldSel:
		c.compileAddress(e)
		c.loadIndirect(e, "load value of record field")
	case *ast.Deref:
		c.compileExpr(e.X)
		c.loadIndirect(e, "load value pointed to by pointer")
	case *ast.AddressOf:
		c.compileAddress(e.X)
	case *ast.Unary:
		c.compileUnary(e)
	case *ast.Binary:
		c.compileBinary(e)
	case *ast.Cast:
		c.compileCast(e)
	case *ast.Call:
		c.compileCall(e)
	default:
		if expr == nil {
			c.errorf(ast.Pos{}, "missing expression")
			return
		}
		c.errorf(expr.Position(), "unknown expression type: %T", expr)
	}
}

func (c *Compiler) loadIndirect(e ast.Expr, comment string) {
	code, ok := ast.SimpleCode(e.Type())
	if !ok {
		c.errorf(e.Position(), "cannot load a value of type %v", e.Type())
		return
	}
	c.emit(e.Position(), inst.LDI, int(code), 0, comment)
}

// loadValueOpcode picks the direct load for a simple type. Strings have no
// load of their own and reuse LVC.
func loadValueOpcode(code inst.TypeCode) (inst.Opcode, bool) {
	switch code {
	case inst.A:
		return inst.LVA, true
	case inst.B:
		return inst.LVB, true
	case inst.C, inst.S:
		return inst.LVC, true
	case inst.I:
		return inst.LVI, true
	case inst.R:
		return inst.LVR, true
	}
	return 0, false
}

func (c *Compiler) compileIdent(id *ast.Ident) {
	sym := id.Sym
	switch sym.Kind {
	case ast.SymSubprogram, ast.SymNative:
		c.errorf(id.Pos, "%s %s used as a value", sym.Kind, sym.Name)
		return
	}
	name := sym.Name

	if sym.ByRef {
		if code, ok := ast.SimpleCode(sym.Type); ok {
			c.emit(id.Pos, inst.LVA, id.Level, sym.Address, "address of "+name)
			c.emit(id.Pos, inst.LDI, int(code), 0, "value of "+name)
			return
		}
		// Composite by reference, copied by value word by word.
		for i, code := range ast.SimpleCodes(sym.Type) {
			c.emit(id.Pos, inst.LVA, id.Level, sym.Address, "address of "+name)
			if i > 0 {
				cidx := c.constant(id.Pos, bytecode.Int(i))
				c.emit(id.Pos, inst.LDC, int(inst.I), cidx, fmt.Sprintf("offset %d", i))
				c.emit(id.Pos, inst.ADI, 0, 0, "")
			}
			c.emit(id.Pos, inst.LDI, int(code), 0, fmt.Sprintf("value of %s at index %d", name, i))
		}
		return
	}

	if code, ok := ast.SimpleCode(sym.Type); ok {
		op, ok := loadValueOpcode(code)
		if !ok {
			c.errorf(id.Pos, "can't make code to get %v", sym.Type)
			return
		}
		c.emit(id.Pos, op, id.Level, sym.Address, "value of "+name)
		return
	}

	for i := 0; i < sym.Type.Size(); i++ {
		c.emit(id.Pos, inst.LVI, id.Level, sym.Address+i, fmt.Sprintf("value of %s at index %d", name, i))
	}
}

func (c *Compiler) compileUnary(e *ast.Unary) {
	c.compileExpr(e.X)
	switch e.Op {
	case ast.OpNot:
		c.emit(e.Pos, inst.NOT, 0, 0, "logical not")
	case ast.OpNeg:
		if ast.IsSimple(e.X.Type(), inst.R) {
			c.emit(e.Pos, inst.NGR, 0, 0, "real sign inversion")
		} else {
			c.emit(e.Pos, inst.NGI, 0, 0, "integer sign inversion")
		}
	default:
		c.errorf(e.Pos, "unknown unary operator %v", e.Op)
	}
}

type arithmetic struct {
	name    string
	integer inst.Opcode
	real    inst.Opcode
	hasInt  bool
	hasReal bool
}

var arithmeticOps = map[ast.BinaryOp]arithmetic{
	ast.OpAdd:    {"add", inst.ADI, inst.ADR, true, true},
	ast.OpSub:    {"subtract", inst.SBI, inst.SBR, true, true},
	ast.OpMul:    {"multiply", inst.MPI, inst.MPR, true, true},
	ast.OpDiv:    {"divide", 0, inst.DVR, false, true},
	ast.OpIntDiv: {"divide", inst.DVI, 0, true, false},
	ast.OpMod:    {"mod", inst.MOD, 0, true, false},
}

var logicalOps = map[ast.BinaryOp]inst.Opcode{
	ast.OpEq:  inst.EQU,
	ast.OpNe:  inst.NEQ,
	ast.OpLt:  inst.LES,
	ast.OpGt:  inst.GRT,
	ast.OpLe:  inst.LEQ,
	ast.OpGe:  inst.GEQ,
	ast.OpAnd: inst.AND,
	ast.OpOr:  inst.IOR,
	ast.OpXor: inst.XOR,
}

func (c *Compiler) compileBinary(e *ast.Binary) {
	c.compileExpr(e.LHS)
	c.compileExpr(e.RHS)

	if ar, ok := arithmeticOps[e.Op]; ok {
		code, simple := ast.SimpleCode(e.Typ)
		switch {
		case simple && code == inst.I && ar.hasInt:
			c.emit(e.Pos, ar.integer, 0, 0, ar.name+" integers")
		case simple && code == inst.R && ar.hasReal:
			c.emit(e.Pos, ar.real, 0, 0, ar.name+" reals")
		default:
			c.errorf(e.Pos, "can't %s operands of type %v", ar.name, e.Typ)
		}
		return
	}

	op, ok := logicalOps[e.Op]
	if !ok {
		c.errorf(e.Pos, "unknown binary operator %v", e.Op)
		return
	}
	code, simple := ast.SimpleCode(e.LHS.Type())
	if !simple {
		c.errorf(e.Pos, "can't do %v on operands of type %v", e.Op, e.LHS.Type())
		return
	}
	c.emit(e.Pos, op, int(code), 0, e.Op.String())
}

func (c *Compiler) compileCast(e *ast.Cast) {
	c.compileExpr(e.X)
	from, fromSimple := ast.SimpleCode(e.X.Type())
	to, toSimple := ast.SimpleCode(e.To)
	switch {
	case fromSimple && toSimple && from == inst.I && to == inst.R:
		c.emit(e.Pos, inst.FLT, 0, 0, "cast to float")
	case fromSimple && toSimple && from == to:
	default:
		c.errorf(e.Pos, "don't know how to compile a cast from %v to %v", e.X.Type(), e.To)
	}
}

// ---------------------------------------------------------------------------
// Addresses
// ---------------------------------------------------------------------------

// compileAddress pushes the data store address of a designator.
func (c *Compiler) compileAddress(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.Ident:
		op := inst.LDA
		if e.Sym.ByRef {
			// The slot already holds the address.
			op = inst.LVA
		}
		c.emit(e.Pos, op, e.Level, e.Sym.Address, "address of "+e.Sym.Name)
	case *ast.Index:
		c.compileIndexAddress(e)
	case *ast.FieldSel:
		c.compileAddress(e.X)
		cidx := c.constant(e.Pos, bytecode.Int(e.Field.Offset))
		c.emit(e.Pos, inst.LDC, int(inst.I), cidx, fmt.Sprintf("offset of field %q", e.Field.Name))
		c.emit(e.Pos, inst.ADI, 0, 0, "add offset to record address")
	case *ast.Deref:
		c.compileExpr(e.X)
	default:
		if expr == nil {
			c.errorf(ast.Pos{}, "missing designator")
			return
		}
		c.errorf(expr.Position(), "unknown LHS node %T", expr)
	}
}

// compileIndexAddress walks the dimensions left to right. Each index has
// its lower bound subtracted and is scaled by the size of the remaining
// dimensions times the element size.
func (c *Compiler) compileIndexAddress(e *ast.Index) {
	at, ok := e.X.Type().(*ast.ArrayType)
	if !ok {
		c.errorf(e.Pos, "cannot index a value of type %v", e.X.Type())
		return
	}
	if len(e.Indices) == 0 || len(e.Indices) > len(at.Ranges) {
		c.errorf(e.Pos, "array of %d dimensions indexed with %d indices", len(at.Ranges), len(e.Indices))
		return
	}

	c.compileAddress(e.X)

	strides := at.Strides()
	for i, index := range e.Indices {
		c.compileExpr(index)
		low := at.Ranges[i].Low
		cidx := c.constant(e.Pos, bytecode.Int(low))
		c.emit(e.Pos, inst.LDC, int(inst.I), cidx, fmt.Sprintf("lower bound %d", low))
		c.emit(e.Pos, inst.SBI, 0, 0, "subtract lower bound")
		what := "slice"
		if i == len(at.Ranges)-1 {
			what = "element"
		}
		c.emit(e.Pos, inst.IXA, 0, strides[i], fmt.Sprintf("address of array %s (size %d)", what, strides[i]))
	}
}

// describe names a designator for listing comments.
func describe(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.Ident:
		return e.Sym.Name
	case *ast.Index:
		return describe(e.X) + "[...]"
	case *ast.FieldSel:
		return describe(e.X) + "." + e.Field.Name
	case *ast.Deref:
		return describe(e.X) + "^"
	}
	return fmt.Sprintf("%T", e)
}
