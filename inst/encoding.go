package inst

import "fmt"

// Instruction is a packed machine word. Instructions are immutable; patching
// a jump target means encoding a new word and storing it at the same address.
type Instruction uint32

// EncodingError reports an operand that does not fit in its field.
type EncodingError struct {
	Opcode  Opcode
	Operand int // 1 or 2
	Value   int
}

func (e *EncodingError) Error() string {
	limit := MaxOperand1
	if e.Operand == 2 {
		limit = MaxOperand2
	}
	if e.Value < 0 {
		return fmt.Sprintf("%s: negative operand%d: %d", e.Opcode, e.Operand, e.Value)
	}
	return fmt.Sprintf("%s: too large operand%d: %d (max %d)", e.Opcode, e.Operand, e.Value, limit)
}

// Encode packs an opcode and its operands into an instruction word.
func Encode(op Opcode, operand1, operand2 int) (Instruction, error) {
	if operand1 < 0 || operand1 > MaxOperand1 {
		return 0, &EncodingError{Opcode: op, Operand: 1, Value: operand1}
	}
	if operand2 < 0 || operand2 > MaxOperand2 {
		return 0, &EncodingError{Opcode: op, Operand: 2, Value: operand2}
	}
	return Instruction(uint32(op)<<opcodeShift |
		uint32(operand1)<<operand1Shift |
		uint32(operand2)<<operand2Shift), nil
}

// MustEncode is like Encode but panics on error. Intended for tests and
// hand-assembled sequences whose operands are known to fit.
func MustEncode(op Opcode, operand1, operand2 int) Instruction {
	i, err := Encode(op, operand1, operand2)
	if err != nil {
		panic(err)
	}
	return i
}

// Opcode returns the opcode field.
func (i Instruction) Opcode() Opcode {
	return Opcode(uint32(i) >> opcodeShift & opcodeMask)
}

// Operand1 returns operand 1.
func (i Instruction) Operand1() int {
	return int(uint32(i) >> operand1Shift & MaxOperand1)
}

// Operand2 returns operand 2.
func (i Instruction) Operand2() int {
	return int(uint32(i) >> operand2Shift & MaxOperand2)
}

// WithOperand2 returns a copy of the instruction with operand 2 replaced.
func (i Instruction) WithOperand2(operand2 int) (Instruction, error) {
	return Encode(i.Opcode(), i.Operand1(), operand2)
}

// Disassemble returns "MNEMONIC operand1 operand2".
func Disassemble(i Instruction) string {
	return fmt.Sprintf("%s %d %d", i.Opcode(), i.Operand1(), i.Operand2())
}

// String implements the Stringer interface.
func (i Instruction) String() string {
	return Disassemble(i)
}
