// Package bytecode holds the output of the compiler: the instruction store,
// the constant pool, the typed constants and the native registry. An Image is
// built append-only by a single compiler walk and frozen before a machine
// executes it.
package bytecode

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/pmachine/inst"
)

// ErrFrozen is returned when an Image is modified after Freeze.
var ErrFrozen = errors.New("bytecode image is frozen")

// Image is a compiled program.
type Image struct {
	istore         []inst.Instruction
	constants      []Value
	typedConstants []Value
	startAddress   int
	comments       map[int]string
	natives        *Registry
	frozen         bool
}

// NewImage creates an empty image bound to a native registry. A nil registry
// is replaced by an empty one.
func NewImage(natives *Registry) *Image {
	if natives == nil {
		natives = NewRegistry()
	}
	return &Image{
		istore:   make([]inst.Instruction, 0, 256),
		comments: make(map[int]string),
		natives:  natives,
	}
}

// ---------------------------------------------------------------------------
// Building
// ---------------------------------------------------------------------------

// Emit encodes and appends an instruction and returns its address. A
// non-empty comment is attached to the address.
func (im *Image) Emit(op inst.Opcode, operand1, operand2 int, comment string) (int, error) {
	if im.frozen {
		return 0, ErrFrozen
	}
	i, err := inst.Encode(op, operand1, operand2)
	if err != nil {
		return 0, err
	}
	address := len(im.istore)
	im.istore = append(im.istore, i)
	if comment != "" {
		im.addComment(address, comment)
	}
	return address, nil
}

// SetOperand2 replaces operand 2 of the instruction at address. Used to
// back-patch jump and call targets.
func (im *Image) SetOperand2(address, operand2 int) error {
	if im.frozen {
		return ErrFrozen
	}
	if address < 0 || address >= len(im.istore) {
		return fmt.Errorf("patch address %d out of range [0, %d)", address, len(im.istore))
	}
	i, err := im.istore[address].WithOperand2(operand2)
	if err != nil {
		return err
	}
	im.istore[address] = i
	return nil
}

// NextAddress returns the address the next emitted instruction will get.
func (im *Image) NextAddress() int {
	return len(im.istore)
}

// AddConstant interns a scalar in the constant pool and returns its index.
// An identical existing constant (same kind and payload) returns the index
// of the first occurrence.
func (im *Image) AddConstant(v Value) (int, error) {
	for i, c := range im.constants {
		if c.Same(v) {
			return i, nil
		}
	}
	if im.frozen {
		return 0, ErrFrozen
	}
	im.constants = append(im.constants, v)
	return len(im.constants) - 1, nil
}

// AddTypedConstants appends pre-initialised data words and returns the data
// store address of the first one.
func (im *Image) AddTypedConstants(words []Value) (int, error) {
	if im.frozen {
		return 0, ErrFrozen
	}
	address := len(im.typedConstants)
	im.typedConstants = append(im.typedConstants, words...)
	return address, nil
}

// SetStartAddress records where execution begins.
func (im *Image) SetStartAddress(address int) error {
	if im.frozen {
		return ErrFrozen
	}
	im.startAddress = address
	return nil
}

// AddComment attaches a diagnostic comment to an address. Several comments
// on the same address are joined.
func (im *Image) AddComment(address int, comment string) error {
	if im.frozen {
		return ErrFrozen
	}
	im.addComment(address, comment)
	return nil
}

func (im *Image) addComment(address int, comment string) {
	if prev, ok := im.comments[address]; ok {
		im.comments[address] = prev + "; " + comment
		return
	}
	im.comments[address] = comment
}

// Freeze makes the image read-only.
func (im *Image) Freeze() {
	im.frozen = true
}

// Frozen reports whether Freeze has been called.
func (im *Image) Frozen() bool {
	return im.frozen
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// Len returns the number of instructions.
func (im *Image) Len() int {
	return len(im.istore)
}

// Fetch returns the instruction at address.
func (im *Image) Fetch(address int) (inst.Instruction, bool) {
	if address < 0 || address >= len(im.istore) {
		return 0, false
	}
	return im.istore[address], true
}

// Constant returns the pool entry at index.
func (im *Image) Constant(index int) (Value, bool) {
	if index < 0 || index >= len(im.constants) {
		return Undefined, false
	}
	return im.constants[index], true
}

// Constants returns a copy of the constant pool.
func (im *Image) Constants() []Value {
	return append([]Value(nil), im.constants...)
}

// TypedConstants returns a copy of the typed constant words.
func (im *Image) TypedConstants() []Value {
	return append([]Value(nil), im.typedConstants...)
}

// TypedConstantsLen returns the number of typed constant words.
func (im *Image) TypedConstantsLen() int {
	return len(im.typedConstants)
}

func (im *Image) StartAddress() int {
	return im.startAddress
}

// Comment returns the comment attached to address, if any.
func (im *Image) Comment(address int) string {
	return im.comments[address]
}

func (im *Image) Natives() *Registry {
	return im.natives
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// Disassemble writes a human-readable listing of the image.
func (im *Image) Disassemble(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== code (%d instructions, start %d) ==\n", len(im.istore), im.startAddress)
	for addr, i := range im.istore {
		line := fmt.Sprintf("%04d  %-14s", addr, inst.Disassemble(i))
		if extra := im.annotate(i); extra != "" {
			line += " " + extra
		}
		if c, ok := im.comments[addr]; ok {
			line = fmt.Sprintf("%-40s ; %s", line, c)
		}
		sb.WriteString(strings.TrimRight(line, " "))
		sb.WriteByte('\n')
	}
	if len(im.constants) > 0 {
		fmt.Fprintf(&sb, "== constants (%d) ==\n", len(im.constants))
		for idx, c := range im.constants {
			fmt.Fprintf(&sb, "%4d  %-8s %s\n", idx, c.Kind, c.Quoted())
		}
	}
	if len(im.typedConstants) > 0 {
		fmt.Fprintf(&sb, "== typed constants (%d words) ==\n", len(im.typedConstants))
		for addr, c := range im.typedConstants {
			fmt.Fprintf(&sb, "%4d  %s\n", addr, c.Quoted())
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// annotate adds the resolved operand for constant loads and native calls.
func (im *Image) annotate(i inst.Instruction) string {
	switch i.Opcode() {
	case inst.LDC:
		if c, ok := im.Constant(i.Operand2()); ok {
			return "(" + c.Quoted() + ")"
		}
	case inst.CSP:
		if p, ok := im.natives.At(i.Operand2()); ok {
			return "(" + p.Name + ")"
		}
	}
	return ""
}

// String returns the listing produced by Disassemble.
func (im *Image) String() string {
	var sb strings.Builder
	_ = im.Disassemble(&sb)
	return sb.String()
}
