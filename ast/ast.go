// Package ast defines the resolved syntax tree consumed by the compiler.
//
// The tree is produced by a front end that has already type-checked the
// program and resolved every identifier to a Symbol. Nodes are a closed set
// of variants: each construct has its own struct, and the Expr and Stmt
// interfaces carry marker methods so that only the types in this package
// satisfy them.
package ast

import (
	"fmt"
	"math"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Pos is a source location. The zero Pos means unknown.
type Pos struct {
	Line   int // 1-based
	Column int // 1-based
}

// Position returns the location. Nodes embed Pos, so every node has it.
func (p Pos) Position() Pos { return p }

func (p Pos) String() string {
	if p.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is implemented by all tree nodes.
type Node interface {
	Position() Pos
	node() // marker method
}

// Expr is an expression with a resolved type.
type Expr interface {
	Node
	Type() Type
	expr() // marker method
}

// Stmt is a statement.
type Stmt interface {
	Node
	stmt() // marker method
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// Number is a numeric literal. It is an integer when it has no fractional
// part and a real otherwise.
type Number struct {
	Pos
	Value float64
}

func (n *Number) Type() Type {
	if n.IsInteger() {
		return Integer
	}
	return Real
}

// IsInteger reports whether the literal has no fractional part and fits in
// an int64 word. Larger whole numbers are reals.
func (n *Number) IsInteger() bool {
	return n.Value == math.Trunc(n.Value) && n.Value >= math.MinInt64 && n.Value < 1<<63
}

func (n *Number) node() {}
func (n *Number) expr() {}

// StringLit is a string literal.
type StringLit struct {
	Pos
	Value string
}

func (n *StringLit) Type() Type { return String }
func (n *StringLit) node()      {}
func (n *StringLit) expr()      {}

// CharLit is a character literal.
type CharLit struct {
	Pos
	Value rune
}

func (n *CharLit) Type() Type { return Char }
func (n *CharLit) node()      {}
func (n *CharLit) expr()      {}

// BoolLit is true or false.
type BoolLit struct {
	Pos
	Value bool
}

func (n *BoolLit) Type() Type { return Boolean }
func (n *BoolLit) node()      {}
func (n *BoolLit) expr()      {}

// NilLit is the nil pointer.
type NilLit struct {
	Pos
}

func (n *NilLit) Type() Type { return Pointer }
func (n *NilLit) node()      {}
func (n *NilLit) expr()      {}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// Ident is a resolved reference to a symbol. Level is the number of scopes
// between the reference and the declaration (0 = same scope).
type Ident struct {
	Pos
	Sym   *Symbol
	Level int
}

func (n *Ident) Type() Type { return n.Sym.Type }
func (n *Ident) node()      {}
func (n *Ident) expr()      {}

// Index is an array element or slice: X[Indices...].
type Index struct {
	Pos
	X       Expr
	Indices []Expr
}

// Type is the element type when every dimension is indexed, or the
// remaining slice otherwise.
func (n *Index) Type() Type {
	at, ok := n.X.Type().(*ArrayType)
	if !ok {
		return nil
	}
	if len(n.Indices) >= len(at.Ranges) {
		return at.Elem
	}
	return &ArrayType{Ranges: at.Ranges[len(n.Indices):], Elem: at.Elem}
}

func (n *Index) node() {}
func (n *Index) expr() {}

// FieldSel is a record field designator: X.Field.
type FieldSel struct {
	Pos
	X     Expr
	Field *Field
}

func (n *FieldSel) Type() Type { return n.Field.Type }
func (n *FieldSel) node()      {}
func (n *FieldSel) expr()      {}

// Deref is X^.
type Deref struct {
	Pos
	X Expr
}

func (n *Deref) Type() Type {
	if st, ok := n.X.Type().(*SimpleType); ok && st.Target != nil {
		return st.Target
	}
	return nil
}

func (n *Deref) node() {}
func (n *Deref) expr() {}

// AddressOf is @X.
type AddressOf struct {
	Pos
	X Expr
}

func (n *AddressOf) Type() Type { return PointerTo(n.X.Type()) }
func (n *AddressOf) node()      {}
func (n *AddressOf) expr()      {}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// BinaryOp enumerates binary operators.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv // real division
	OpIntDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpAnd
	OpOr
	OpXor
)

var binaryOpNames = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpIntDiv: "div", OpMod: "mod",
	OpEq: "=", OpNe: "<>", OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=",
	OpAnd: "and", OpOr: "or", OpXor: "xor",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", uint8(op))
}

// IsComparison reports whether the operator yields a Boolean from two
// operands of the same type.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// Binary is LHS Op RHS. Typ is the result type assigned by the type checker.
type Binary struct {
	Pos
	Op  BinaryOp
	LHS Expr
	RHS Expr
	Typ Type
}

func (n *Binary) Type() Type { return n.Typ }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// UnaryOp enumerates unary operators.
type UnaryOp uint8

const (
	OpNot UnaryOp = iota
	OpNeg
)

func (op UnaryOp) String() string {
	if op == OpNot {
		return "not"
	}
	return "-"
}

// Unary is Op X.
type Unary struct {
	Pos
	Op UnaryOp
	X  Expr
}

func (n *Unary) Type() Type {
	if n.Op == OpNot {
		return Boolean
	}
	return n.X.Type()
}

func (n *Unary) node() {}
func (n *Unary) expr() {}

// Cast converts X to To.
type Cast struct {
	Pos
	X  Expr
	To Type
}

func (n *Cast) Type() Type { return n.To }
func (n *Cast) node()      {}
func (n *Cast) expr()      {}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Arg is one actual argument. ByRef arguments pass the address of X.
type Arg struct {
	X     Expr
	ByRef bool
}

// Call invokes a user subprogram or a native procedure. A Call is both an
// expression (function call) and a statement (procedure call).
type Call struct {
	Pos
	Callee *Ident
	Args   []Arg
}

func (n *Call) Type() Type {
	if sig, ok := n.Callee.Sym.Type.(*SubprogramType); ok && sig.Result != nil {
		return sig.Result
	}
	return Void
}

func (n *Call) node() {}
func (n *Call) expr() {}
func (n *Call) stmt() {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Assign is LHS := RHS.
type Assign struct {
	Pos
	LHS Expr
	RHS Expr
}

func (n *Assign) node() {}
func (n *Assign) stmt() {}

// Block is begin ... end.
type Block struct {
	Pos
	Stmts []Stmt
}

func (n *Block) node() {}
func (n *Block) stmt() {}

// If is if Cond then Then else Else. Else may be nil.
type If struct {
	Pos
	Cond Expr
	Then Stmt
	Else Stmt
}

func (n *If) node() {}
func (n *If) stmt() {}

// While is while Cond do Body.
type While struct {
	Pos
	Cond Expr
	Body Stmt
}

func (n *While) node() {}
func (n *While) stmt() {}

// Repeat is repeat Body until Cond.
type Repeat struct {
	Pos
	Body *Block
	Cond Expr
}

func (n *Repeat) node() {}
func (n *Repeat) stmt() {}

// For is for Var := From to|downto To do Body.
type For struct {
	Pos
	Var    *Ident
	From   Expr
	To     Expr
	Downto bool
	Body   Stmt
}

func (n *For) node() {}
func (n *For) stmt() {}

// Exit returns from the enclosing subprogram.
type Exit struct {
	Pos
}

func (n *Exit) node() {}
func (n *Exit) stmt() {}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// SubprogramKind distinguishes the program, procedures and functions.
type SubprogramKind uint8

const (
	KindProgram SubprogramKind = iota
	KindProcedure
	KindFunction
)

func (k SubprogramKind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindProcedure:
		return "procedure"
	case KindFunction:
		return "function"
	}
	return fmt.Sprintf("SubprogramKind(%d)", uint8(k))
}

// TypedConst is an initialised variable. Data holds one word per element
// and is copied into the frame slot Sym.Address on entry.
type TypedConst struct {
	Pos
	Sym  *Symbol
	Data []bytecode.Value
}

// Codes returns the type code of each word of the constant.
func (n *TypedConst) Codes() []inst.TypeCode {
	return SimpleCodes(n.Sym.Type)
}

func (n *TypedConst) node() {}

// Subprogram is a program, procedure or function body with its nested
// declarations. ParamWords and VarWords are the frame sizes computed by the
// front end.
type Subprogram struct {
	Pos
	Kind        SubprogramKind
	Name        string
	Sym         *Symbol // nil for the program
	Result      Type    // function result, nil otherwise
	ParamWords  int
	VarWords    int
	Subprograms []*Subprogram
	TypedConsts []*TypedConst
	Body        *Block
}

// FrameSize is the number of words ENT reserves.
func (n *Subprogram) FrameSize() int {
	return inst.MarkSize + n.ParamWords + n.VarWords
}

func (n *Subprogram) node() {}

// Program is the root of a resolved tree.
type Program struct {
	Main    *Subprogram
	Natives *bytecode.Registry
}
