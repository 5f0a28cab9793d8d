package ast

import (
	"fmt"
	"strings"

	"github.com/chazu/pmachine/inst"
)

// Type is a resolved Pascal type. Sizes are in machine words.
type Type interface {
	Size() int
	String() string
	typ() // marker method
}

// SimpleType is a one-word scalar type.
type SimpleType struct {
	Code inst.TypeCode
	Name string
	// Target is the pointed-to type when Code is inst.A. Nil for the nil
	// literal and untyped pointers.
	Target Type
}

func (t *SimpleType) Size() int      { return 1 }
func (t *SimpleType) String() string { return t.Name }
func (t *SimpleType) typ()           {}

// Predefined simple types.
var (
	Integer = &SimpleType{Code: inst.I, Name: "Integer"}
	Real    = &SimpleType{Code: inst.R, Name: "Real"}
	Char    = &SimpleType{Code: inst.C, Name: "Char"}
	Boolean = &SimpleType{Code: inst.B, Name: "Boolean"}
	String  = &SimpleType{Code: inst.S, Name: "String"}
	Pointer = &SimpleType{Code: inst.A, Name: "Pointer"}
	Void    = &SimpleType{Code: inst.P, Name: "Void"}
)

// PointerTo returns the type ^target.
func PointerTo(target Type) *SimpleType {
	return &SimpleType{Code: inst.A, Name: "^" + target.String(), Target: target}
}

// Range is an inclusive index range low..high.
type Range struct {
	Low, High int
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	return r.High - r.Low + 1
}

// ArrayType is array[ranges] of Elem.
type ArrayType struct {
	Ranges []Range
	Elem   Type
}

func (t *ArrayType) Size() int {
	n := t.Elem.Size()
	for _, r := range t.Ranges {
		n *= r.Len()
	}
	return n
}

func (t *ArrayType) String() string {
	parts := make([]string, len(t.Ranges))
	for i, r := range t.Ranges {
		parts[i] = fmt.Sprintf("%d..%d", r.Low, r.High)
	}
	return fmt.Sprintf("array[%s] of %s", strings.Join(parts, ","), t.Elem)
}

func (t *ArrayType) typ() {}

// Strides returns the word distance between consecutive indices of each
// dimension, outermost first. Storage is row-major.
func (t *ArrayType) Strides() []int {
	strides := make([]int, len(t.Ranges))
	stride := t.Elem.Size()
	for i := len(t.Ranges) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= t.Ranges[i].Len()
	}
	return strides
}

// Field is a record member at a fixed word offset from the record base.
type Field struct {
	Name   string
	Type   Type
	Offset int
}

// RecordType is a record with fields laid out in declaration order.
type RecordType struct {
	Fields []*Field
	size   int
}

// FieldDecl names a field for NewRecordType.
type FieldDecl struct {
	Name string
	Type Type
}

// NewRecordType lays out fields left to right; each offset is the sum of
// the sizes of the fields before it.
func NewRecordType(decls ...FieldDecl) *RecordType {
	rt := &RecordType{}
	for _, d := range decls {
		rt.Fields = append(rt.Fields, &Field{Name: d.Name, Type: d.Type, Offset: rt.size})
		rt.size += d.Type.Size()
	}
	return rt
}

func (t *RecordType) Size() int { return t.size }

func (t *RecordType) String() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.Name + ": " + f.Type.String()
	}
	return "record " + strings.Join(parts, "; ") + " end"
}

func (t *RecordType) typ() {}

// Field looks up a member by name, case-insensitively.
func (t *RecordType) Field(name string) (*Field, bool) {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return nil, false
}

// Param is a declared subprogram parameter.
type Param struct {
	Name  string
	Type  Type
	ByRef bool
}

// Words returns the stack words the parameter occupies in the callee frame.
func (p Param) Words() int {
	if p.ByRef {
		return 1
	}
	return p.Type.Size()
}

// SubprogramType is the signature of a procedure or function. Result is
// Void for procedures.
type SubprogramType struct {
	Params []Param
	Result Type
}

// Size is the size of a procedure value, which is never stored.
func (t *SubprogramType) Size() int { return 0 }

func (t *SubprogramType) String() string {
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		s := p.Name + ": " + p.Type.String()
		if p.ByRef {
			s = "var " + s
		}
		parts[i] = s
	}
	if IsVoid(t.Result) {
		return "procedure(" + strings.Join(parts, "; ") + ")"
	}
	return "function(" + strings.Join(parts, "; ") + "): " + t.Result.String()
}

func (t *SubprogramType) typ() {}

// ParamWords returns the total parameter size in words.
func (t *SubprogramType) ParamWords() int {
	n := 0
	for _, p := range t.Params {
		n += p.Words()
	}
	return n
}

// SimpleCode returns the type code of a simple type.
func SimpleCode(t Type) (inst.TypeCode, bool) {
	if st, ok := t.(*SimpleType); ok {
		return st.Code, true
	}
	return 0, false
}

// IsSimple reports whether t is a scalar of the given code.
func IsSimple(t Type, code inst.TypeCode) bool {
	c, ok := SimpleCode(t)
	return ok && c == code
}

// IsVoid reports whether t is nil or the void type.
func IsVoid(t Type) bool {
	return t == nil || IsSimple(t, inst.P)
}

// SimpleCodes flattens a type into the type code of each of its words.
func SimpleCodes(t Type) []inst.TypeCode {
	switch t := t.(type) {
	case *SimpleType:
		return []inst.TypeCode{t.Code}
	case *ArrayType:
		elem := SimpleCodes(t.Elem)
		n := t.Size() / max(t.Elem.Size(), 1)
		codes := make([]inst.TypeCode, 0, t.Size())
		for range n {
			codes = append(codes, elem...)
		}
		return codes
	case *RecordType:
		var codes []inst.TypeCode
		for _, f := range t.Fields {
			codes = append(codes, SimpleCodes(f.Type)...)
		}
		return codes
	}
	return nil
}
