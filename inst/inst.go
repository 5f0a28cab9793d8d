// Package inst defines the instruction set of the p-machine.
//
// The machine language follows the p-code of 1978 UCSD Pascal. Every
// instruction is a single packed word with three fields:
//
//	bits  0-7   opcode
//	bits  8-16  operand 1 (0..511)
//	bits 17-31  operand 2 (0..32767)
package inst

import "fmt"

// ---------------------------------------------------------------------------
// Field layout
// ---------------------------------------------------------------------------

const (
	opcodeBits   = 8
	operand1Bits = 9
	operand2Bits = 15

	opcodeMask = 1<<opcodeBits - 1

	opcodeShift   = 0
	operand1Shift = opcodeShift + opcodeBits
	operand2Shift = operand1Shift + operand1Bits
)

// Largest values that fit in the operand fields.
const (
	MaxOperand1 = 1<<operand1Bits - 1
	MaxOperand2 = 1<<operand2Bits - 1
)

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode identifies a machine instruction.
type Opcode uint8

// Subprogram linkage
const (
	CUP Opcode = 0x00 // call user procedure        argsize   iaddr
	CSP Opcode = 0x01 // call standard procedure    argc      native index
	ENT Opcode = 0x02 // entry                      register  amount
	MST Opcode = 0x03 // mark stack                 level
	RTN Opcode = 0x04 // return                     type
)

// Comparison (operand 1 is the type of the operands)
const (
	EQU Opcode = 0x05
	NEQ Opcode = 0x06
	GRT Opcode = 0x07
	GEQ Opcode = 0x08
	LES Opcode = 0x09
	LEQ Opcode = 0x0A
)

// Integer arithmetic
const (
	ADI Opcode = 0x0B
	SBI Opcode = 0x0C
	NGI Opcode = 0x0D
	MPI Opcode = 0x0E
	DVI Opcode = 0x0F
	MOD Opcode = 0x10
	ABI Opcode = 0x11
	SQI Opcode = 0x12
	INC Opcode = 0x13 // increment                  type
	DEC Opcode = 0x14 // decrement                  type
)

// Real arithmetic
const (
	ADR Opcode = 0x15
	SBR Opcode = 0x16
	NGR Opcode = 0x17
	MPR Opcode = 0x18
	DVR Opcode = 0x19
	ABR Opcode = 0x1A
	SQR Opcode = 0x1B
)

// Boolean
const (
	IOR Opcode = 0x1C
	AND Opcode = 0x1D
	XOR Opcode = 0x1E
	NOT Opcode = 0x1F
)

// Set operations. Reserved; the machine does not execute them.
const (
	INN Opcode = 0x20
	UNI Opcode = 0x21
	INT Opcode = 0x22
	DIF Opcode = 0x23
	CMP Opcode = 0x24
	SGS Opcode = 0x25
)

// Jumps
const (
	UJP Opcode = 0x26 // unconditional jump                   iaddr
	XJP Opcode = 0x27 // jump to popped address
	FJP Opcode = 0x28 // jump if false                        iaddr
	TJP Opcode = 0x29 // jump if true                         iaddr
)

// Conversion
const (
	FLT Opcode = 0x2A // integer to real
	FLO Opcode = 0x2B // integer to real, second entry on stack
	TRC Opcode = 0x2C // truncate real
	RND Opcode = 0x2D // round real
	CHR Opcode = 0x2E // integer to char
	ORD Opcode = 0x2F // anything to integer
)

// Termination
const (
	STP Opcode = 0x30
)

// Data reference
const (
	LDA Opcode = 0x31 // load address of data    level   offset
	LDC Opcode = 0x32 // load constant           type    cindex
	LDI Opcode = 0x33 // load indirect           type
	LVA Opcode = 0x34 // load value (address)    level   offset
	LVB Opcode = 0x35 // load value (boolean)    level   offset
	LVC Opcode = 0x36 // load value (character)  level   offset
	LVI Opcode = 0x37 // load value (integer)    level   offset
	LVR Opcode = 0x38 // load value (real)       level   offset
	LVS Opcode = 0x39 // load value (set), reserved
	STI Opcode = 0x3A // store indirect          type
	IXA Opcode = 0x3B // indexed address                 stride
)

var opcodeNames = [256]string{
	CUP: "CUP", CSP: "CSP", ENT: "ENT", MST: "MST", RTN: "RTN",
	EQU: "EQU", NEQ: "NEQ", GRT: "GRT", GEQ: "GEQ", LES: "LES", LEQ: "LEQ",
	ADI: "ADI", SBI: "SBI", NGI: "NGI", MPI: "MPI", DVI: "DVI", MOD: "MOD",
	ABI: "ABI", SQI: "SQI", INC: "INC", DEC: "DEC",
	ADR: "ADR", SBR: "SBR", NGR: "NGR", MPR: "MPR", DVR: "DVR", ABR: "ABR", SQR: "SQR",
	IOR: "IOR", AND: "AND", XOR: "XOR", NOT: "NOT",
	INN: "INN", UNI: "UNI", INT: "INT", DIF: "DIF", CMP: "CMP", SGS: "SGS",
	UJP: "UJP", XJP: "XJP", FJP: "FJP", TJP: "TJP",
	FLT: "FLT", FLO: "FLO", TRC: "TRC", RND: "RND", CHR: "CHR", ORD: "ORD",
	STP: "STP",
	LDA: "LDA", LDC: "LDC", LDI: "LDI",
	LVA: "LVA", LVB: "LVB", LVC: "LVC", LVI: "LVI", LVR: "LVR", LVS: "LVS",
	STI: "STI", IXA: "IXA",
}

// Name returns the mnemonic, or OP_xx for an undefined opcode.
func (op Opcode) Name() string {
	if name := opcodeNames[op]; name != "" {
		return name
	}
	return fmt.Sprintf("OP_%02X", uint8(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Defined reports whether op is part of the instruction set.
func (op Opcode) Defined() bool {
	return opcodeNames[op] != ""
}

// ---------------------------------------------------------------------------
// Type codes
// ---------------------------------------------------------------------------

// TypeCode is the simple type tag carried in operand 1 of typed instructions.
type TypeCode uint8

const (
	A TypeCode = 0x00 // address
	B TypeCode = 0x01 // boolean
	C TypeCode = 0x02 // character
	I TypeCode = 0x03 // integer
	R TypeCode = 0x04 // real
	S TypeCode = 0x05 // string
	T TypeCode = 0x06 // set
	P TypeCode = 0x07 // procedure (void, returned by procedures)
	X TypeCode = 0x08 // any
)

var typeCodeNames = [...]string{
	A: "pointer",
	B: "boolean",
	C: "char",
	I: "integer",
	R: "real",
	S: "string",
	T: "set",
	P: "void",
	X: "any",
}

// Name returns the Pascal-level name of the type code.
func (tc TypeCode) Name() string {
	if int(tc) < len(typeCodeNames) {
		return typeCodeNames[tc]
	}
	return fmt.Sprintf("type(%d)", uint8(tc))
}

func (tc TypeCode) String() string {
	return tc.Name()
}

// Letter returns the single-letter p-code mnemonic suffix (A, B, C, ...).
func (tc TypeCode) Letter() string {
	if int(tc) < len(typeCodeNames) {
		return string("ABCIRSTPX"[tc])
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Registers (operand 1 of ENT)
// ---------------------------------------------------------------------------

const (
	RegSP = 0x00 // stack pointer
	RegEP = 0x01 // extreme pointer, not used by this machine
	RegMP = 0x02 // mark pointer
	RegPC = 0x03 // program counter
	RegNP = 0x04 // new pointer
)

// ---------------------------------------------------------------------------
// Mark layout
// ---------------------------------------------------------------------------

// The mark is the area at the bottom of each frame, low to high address:
// return value, static link, dynamic link, extreme pointer, return address.
const (
	MarkReturnValue    = 0
	MarkStaticLink     = 1
	MarkDynamicLink    = 2
	MarkExtremePointer = 3
	MarkReturnAddress  = 4

	MarkSize = 5
)
