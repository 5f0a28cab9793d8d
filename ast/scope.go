package ast

import (
	"fmt"
	"strings"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// SymbolKind classifies what a Symbol names.
type SymbolKind uint8

const (
	SymVar SymbolKind = iota
	SymParam
	SymTypedConst
	SymResult // function result slot
	SymSubprogram
	SymNative
)

func (k SymbolKind) String() string {
	switch k {
	case SymVar:
		return "var"
	case SymParam:
		return "param"
	case SymTypedConst:
		return "typed const"
	case SymResult:
		return "result"
	case SymSubprogram:
		return "subprogram"
	case SymNative:
		return "native"
	}
	return fmt.Sprintf("SymbolKind(%d)", uint8(k))
}

// Symbol is a resolved declaration. Address is the word offset within the
// declaring frame for data symbols and the registry index for natives.
// User subprograms have no address until the compiler emits them.
type Symbol struct {
	Name    string
	Kind    SymbolKind
	Type    Type
	Address int
	ByRef   bool
}

// IsNative reports whether the symbol is called through CSP.
func (s *Symbol) IsNative() bool {
	return s.Kind == SymNative
}

// Scope assigns frame addresses the way the front end does and resolves
// names to Idents with a nesting level. Parameters must be added before
// variables.
type Scope struct {
	parent     *Scope
	symbols    map[string]*Symbol
	natives    *bytecode.Registry
	result     *Symbol
	paramWords int
	varWords   int
}

// NewRootScope creates the program scope. Names not declared anywhere are
// looked up in natives.
func NewRootScope(natives *bytecode.Registry) *Scope {
	if natives == nil {
		natives = bytecode.NewRegistry()
	}
	return &Scope{symbols: make(map[string]*Symbol), natives: natives}
}

// NewScope creates a scope nested in parent.
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, symbols: make(map[string]*Symbol), natives: parent.natives}
}

func (s *Scope) Parent() *Scope              { return s.parent }
func (s *Scope) Natives() *bytecode.Registry { return s.natives }
func (s *Scope) ParamWords() int             { return s.paramWords }
func (s *Scope) VarWords() int               { return s.varWords }

func (s *Scope) define(sym *Symbol) *Symbol {
	s.symbols[strings.ToLower(sym.Name)] = sym
	return sym
}

// AddParam declares a parameter. By-reference parameters take one word.
func (s *Scope) AddParam(name string, t Type, byRef bool) *Symbol {
	sym := &Symbol{Name: name, Kind: SymParam, Type: t, Address: inst.MarkSize + s.paramWords, ByRef: byRef}
	s.paramWords += Param{Type: t, ByRef: byRef}.Words()
	return s.define(sym)
}

// AddVar declares a local variable after the parameters.
func (s *Scope) AddVar(name string, t Type) *Symbol {
	sym := &Symbol{Name: name, Kind: SymVar, Type: t, Address: inst.MarkSize + s.paramWords + s.varWords}
	s.varWords += t.Size()
	return s.define(sym)
}

// AddTypedConst declares an initialised variable and returns the node the
// subprogram carries for it.
func (s *Scope) AddTypedConst(name string, t Type, data ...bytecode.Value) *TypedConst {
	sym := &Symbol{Name: name, Kind: SymTypedConst, Type: t, Address: inst.MarkSize + s.paramWords + s.varWords}
	s.varWords += t.Size()
	s.define(sym)
	return &TypedConst{Sym: sym, Data: data}
}

// AddResult declares the result slot of a function, the first word of the
// mark. It is reached through Result rather than by name, so the function
// name still resolves to the subprogram for recursive calls.
func (s *Scope) AddResult(name string, t Type) *Symbol {
	s.result = &Symbol{Name: name, Kind: SymResult, Type: t, Address: inst.MarkReturnValue}
	return s.result
}

// Result returns a reference to the function result slot. It panics when
// AddResult has not been called.
func (s *Scope) Result() *Ident {
	if s.result == nil {
		panic("ast: scope has no result slot")
	}
	return &Ident{Sym: s.result}
}

// AddSubprogram declares a procedure or function in this scope.
func (s *Scope) AddSubprogram(name string, sig *SubprogramType) *Symbol {
	return s.define(&Symbol{Name: name, Kind: SymSubprogram, Type: sig})
}

// Lookup resolves name through the enclosing scopes and finally the native
// registry.
func (s *Scope) Lookup(name string) (*Ident, bool) {
	key := strings.ToLower(name)
	level := 0
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.symbols[key]; ok {
			return &Ident{Sym: sym, Level: level}, true
		}
		level++
	}
	idx, ok := s.natives.Lookup(name)
	if !ok {
		return nil, false
	}
	proc, _ := s.natives.At(idx)
	return &Ident{Sym: nativeSymbol(idx, proc)}, true
}

// Ident is Lookup for trees built in code. It panics on an unknown name.
func (s *Scope) Ident(name string) *Ident {
	id, ok := s.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("ast: unknown identifier %q", name))
	}
	return id
}

// Subprogram builds the node for a subprogram whose declarations live in
// s. Call it after all parameters and variables are declared.
func (s *Scope) Subprogram(kind SubprogramKind, sym *Symbol, body *Block, nested ...*Subprogram) *Subprogram {
	sub := &Subprogram{
		Kind:        kind,
		Sym:         sym,
		ParamWords:  s.paramWords,
		VarWords:    s.varWords,
		Subprograms: nested,
		Body:        body,
	}
	if sym != nil {
		sub.Name = sym.Name
		if sig, ok := sym.Type.(*SubprogramType); ok && !IsVoid(sig.Result) {
			sub.Result = sig.Result
		}
	}
	return sub
}

func nativeSymbol(idx int, proc *bytecode.NativeProcedure) *Symbol {
	sig := &SubprogramType{Result: simpleTypeFor(proc.ReturnType)}
	for i, p := range proc.Params {
		sig.Params = append(sig.Params, Param{Name: fmt.Sprintf("p%d", i), Type: simpleTypeFor(p.Type), ByRef: p.ByRef})
	}
	return &Symbol{Name: proc.Name, Kind: SymNative, Type: sig, Address: idx}
}

func simpleTypeFor(code inst.TypeCode) Type {
	switch code {
	case inst.A:
		return Pointer
	case inst.B:
		return Boolean
	case inst.C:
		return Char
	case inst.I:
		return Integer
	case inst.R:
		return Real
	case inst.S:
		return String
	case inst.P:
		return Void
	}
	return &SimpleType{Code: code, Name: code.Name()}
}
