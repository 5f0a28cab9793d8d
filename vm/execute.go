package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// ---------------------------------------------------------------------------
// Data store access
// ---------------------------------------------------------------------------

// checkAddress rejects addresses outside the store and addresses in the
// unallocated gap between the stack and the heap.
func (m *Machine) checkAddress(address int) error {
	if address < 0 || address >= len(m.dstore) {
		return faultf(InvalidAddress, "data address %d outside store of %d words", address, len(m.dstore))
	}
	if address >= m.sp && address < m.np {
		return faultf(InvalidAddress, "invalid data address (%d <= %d < %d)", m.sp, address, m.np)
	}
	return nil
}

func (m *Machine) load(address int) (bytecode.Value, error) {
	if err := m.checkAddress(address); err != nil {
		return bytecode.Undefined, err
	}
	return m.dstore[address], nil
}

func (m *Machine) store(address int, v bytecode.Value) error {
	if err := m.checkAddress(address); err != nil {
		return err
	}
	m.dstore[address] = v
	return nil
}

func (m *Machine) push(v bytecode.Value) error {
	if m.sp >= m.np {
		return faultf(StackOverflow, "stack overflow (sp %d reached heap at %d)", m.sp, m.np)
	}
	m.dstore[m.sp] = v
	m.sp++
	return nil
}

func (m *Machine) pop() (bytecode.Value, error) {
	if m.sp <= m.image.TypedConstantsLen() {
		return bytecode.Undefined, faultf(InvalidAddress, "stack underflow at %d", m.sp)
	}
	m.sp--
	v := m.dstore[m.sp]
	m.dstore[m.sp] = bytecode.Undefined
	return v, nil
}

// frame follows the static link level times from the active frame.
func (m *Machine) frame(level int) (int, error) {
	base := m.mp
	for range level {
		link, err := m.load(base + inst.MarkStaticLink)
		if err != nil {
			return 0, err
		}
		base = link.AsInt()
	}
	return base, nil
}

func (m *Machine) unary(fn func(a bytecode.Value) (bytecode.Value, error)) error {
	a, err := m.pop()
	if err != nil {
		return err
	}
	r, err := fn(a)
	if err != nil {
		return err
	}
	return m.push(r)
}

func (m *Machine) binary(fn func(a, b bytecode.Value) (bytecode.Value, error)) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	r, err := fn(a, b)
	if err != nil {
		return err
	}
	return m.push(r)
}

func intOf(v bytecode.Value) int64 {
	if v.IsReal() {
		return int64(v.F)
	}
	return v.I
}

func pure1(fn func(a bytecode.Value) bytecode.Value) func(bytecode.Value) (bytecode.Value, error) {
	return func(a bytecode.Value) (bytecode.Value, error) { return fn(a), nil }
}

func pure2(fn func(a, b bytecode.Value) bytecode.Value) func(a, b bytecode.Value) (bytecode.Value, error) {
	return func(a, b bytecode.Value) (bytecode.Value, error) { return fn(a, b), nil }
}

// step adds delta to a word, keeping its kind.
func step(v bytecode.Value, delta int64) bytecode.Value {
	if v.IsReal() {
		return bytecode.Real(v.F + float64(delta))
	}
	if v.Kind == bytecode.KindUndefined {
		v.Kind = bytecode.KindInt
	}
	v.I += delta
	return v
}

// ---------------------------------------------------------------------------
// Instruction dispatch
// ---------------------------------------------------------------------------

func (m *Machine) execute(word inst.Instruction) error {
	op, o1, o2 := word.Opcode(), word.Operand1(), word.Operand2()

	switch op {
	// Subprogram linkage
	case inst.CUP:
		return m.callUser(o1, o2)
	case inst.CSP:
		return m.callNative(o1, o2)
	case inst.ENT:
		return m.enter(o1, o2)
	case inst.MST:
		return m.markStack(o1)
	case inst.RTN:
		return m.ret(inst.TypeCode(o1))

	// Comparison
	case inst.EQU:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Equal(b)) }))
	case inst.NEQ:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(!a.Equal(b)) }))
	case inst.GRT:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Compare(b) > 0) }))
	case inst.GEQ:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Compare(b) >= 0) }))
	case inst.LES:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Compare(b) < 0) }))
	case inst.LEQ:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Compare(b) <= 0) }))

	// Integer arithmetic
	case inst.ADI:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Int64(intOf(a) + intOf(b)) }))
	case inst.SBI:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Int64(intOf(a) - intOf(b)) }))
	case inst.MPI:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Int64(intOf(a) * intOf(b)) }))
	case inst.DVI:
		return m.binary(func(a, b bytecode.Value) (bytecode.Value, error) {
			if intOf(b) == 0 {
				return bytecode.Undefined, faultf(DivideByZero, "integer division of %d by zero", intOf(a))
			}
			return bytecode.Int64(intOf(a) / intOf(b)), nil
		})
	case inst.MOD:
		return m.binary(func(a, b bytecode.Value) (bytecode.Value, error) {
			if intOf(b) == 0 {
				return bytecode.Undefined, faultf(DivideByZero, "%d modulo zero", intOf(a))
			}
			return bytecode.Int64(intOf(a) % intOf(b)), nil
		})
	case inst.NGI:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Int64(-intOf(a)) }))
	case inst.ABI:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value {
			i := intOf(a)
			if i < 0 {
				i = -i
			}
			return bytecode.Int64(i)
		}))
	case inst.SQI:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Int64(intOf(a) * intOf(a)) }))
	case inst.INC:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return step(a, 1) }))
	case inst.DEC:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return step(a, -1) }))

	// Real arithmetic
	case inst.ADR:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Real(a.AsReal() + b.AsReal()) }))
	case inst.SBR:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Real(a.AsReal() - b.AsReal()) }))
	case inst.MPR:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Real(a.AsReal() * b.AsReal()) }))
	case inst.DVR:
		return m.binary(func(a, b bytecode.Value) (bytecode.Value, error) {
			if b.AsReal() == 0 {
				return bytecode.Undefined, faultf(DivideByZero, "division of %s by zero", a)
			}
			return bytecode.Real(a.AsReal() / b.AsReal()), nil
		})
	case inst.NGR:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Real(-a.AsReal()) }))
	case inst.ABR:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Real(math.Abs(a.AsReal())) }))
	case inst.SQR:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Real(a.AsReal() * a.AsReal()) }))

	// Boolean
	case inst.IOR:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Truthy() || b.Truthy()) }))
	case inst.AND:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Truthy() && b.Truthy()) }))
	case inst.XOR:
		return m.binary(pure2(func(a, b bytecode.Value) bytecode.Value { return bytecode.Bool(a.Truthy() != b.Truthy()) }))
	case inst.NOT:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Bool(!a.Truthy()) }))

	// Sets
	case inst.INN, inst.UNI, inst.INT, inst.DIF, inst.CMP, inst.SGS, inst.LVS:
		return faultf(UnknownInstruction, "%s: set operations are not supported", op)

	// Jumps
	case inst.UJP:
		m.pc = o2
		return nil
	case inst.XJP:
		target, err := m.pop()
		if err != nil {
			return err
		}
		m.pc = target.AsInt()
		return nil
	case inst.FJP, inst.TJP:
		cond, err := m.pop()
		if err != nil {
			return err
		}
		if cond.Truthy() == (op == inst.TJP) {
			m.pc = o2
		}
		return nil

	// Conversion. Real opcodes widen integer operands, so FLT and FLO
	// leave the word alone.
	case inst.FLT, inst.FLO:
		return nil
	case inst.TRC:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Int64(int64(math.Trunc(a.AsReal()))) }))
	case inst.RND:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Int64(int64(math.Round(a.AsReal()))) }))
	case inst.CHR:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Char(rune(intOf(a))) }))
	case inst.ORD:
		return m.unary(pure1(func(a bytecode.Value) bytecode.Value { return bytecode.Int64(intOf(a)) }))

	case inst.STP:
		m.Stop()
		return nil

	// Data reference
	case inst.LDA:
		base, err := m.frame(o1)
		if err != nil {
			return err
		}
		return m.push(bytecode.Address(base + o2))
	case inst.LDC:
		return m.loadConstant(inst.TypeCode(o1), o2)
	case inst.LDI:
		addr, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.load(addr.AsInt())
		if err != nil {
			return err
		}
		return m.push(v)
	case inst.LVA, inst.LVB, inst.LVC, inst.LVI, inst.LVR:
		base, err := m.frame(o1)
		if err != nil {
			return err
		}
		v, err := m.load(base + o2)
		if err != nil {
			return err
		}
		return m.push(v)
	case inst.STI:
		v, err := m.pop()
		if err != nil {
			return err
		}
		addr, err := m.pop()
		if err != nil {
			return err
		}
		return m.store(addr.AsInt(), v)
	case inst.IXA:
		index, err := m.pop()
		if err != nil {
			return err
		}
		addr, err := m.pop()
		if err != nil {
			return err
		}
		return m.push(bytecode.Address(addr.AsInt() + index.AsInt()*o2))
	}

	return faultf(UnknownInstruction, "unknown opcode 0x%02x", uint8(op))
}

func (m *Machine) loadConstant(code inst.TypeCode, operand int) error {
	switch code {
	case inst.B:
		return m.push(bytecode.Bool(operand != 0))
	case inst.C:
		return m.push(bytecode.Char(rune(operand)))
	case inst.I, inst.R, inst.S, inst.A:
		v, ok := m.image.Constant(operand)
		if !ok {
			return faultf(InvalidAddress, "constant %d not in pool of %d", operand, len(m.image.Constants()))
		}
		return m.push(v)
	}
	return faultf(UnknownInstruction, "cannot load a constant of type %s", code)
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// markStack pushes a mark whose static link is the frame level steps out
// from the active one.
func (m *Machine) markStack(level int) error {
	sl, err := m.frame(level)
	if err != nil {
		return err
	}
	mark := [inst.MarkSize]int{
		inst.MarkReturnValue:    0,
		inst.MarkStaticLink:     sl,
		inst.MarkDynamicLink:    m.mp,
		inst.MarkExtremePointer: m.ep,
		inst.MarkReturnAddress:  0,
	}
	for _, w := range mark {
		if err := m.push(bytecode.Int(w)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) callUser(argWords, target int) error {
	mp := m.sp - argWords - inst.MarkSize
	if mp < m.image.TypedConstantsLen() {
		return faultf(InvalidAddress, "call frame at %d below the stack base", mp)
	}
	m.mp = mp
	m.dstore[mp+inst.MarkReturnAddress] = bytecode.Int(m.pc)
	m.pc = target
	if m.profiler != nil {
		m.profiler.RecordCall(target)
	}
	return nil
}

func (m *Machine) enter(register, amount int) error {
	top := m.mp + amount
	switch register {
	case inst.RegSP:
		if top > m.np {
			return faultf(StackOverflow, "stack overflow (frame needs %d, heap at %d)", top, m.np)
		}
		for a := m.sp; a < top; a++ {
			m.dstore[a] = bytecode.Int(0)
		}
		m.sp = top
	case inst.RegEP:
		m.ep = top
	default:
		return faultf(UnknownInstruction, "ENT cannot set register %d", register)
	}
	return nil
}

func (m *Machine) ret(code inst.TypeCode) error {
	old := m.mp
	var link [inst.MarkSize]int
	for _, slot := range []int{inst.MarkDynamicLink, inst.MarkExtremePointer, inst.MarkReturnAddress} {
		v, err := m.load(old + slot)
		if err != nil {
			return err
		}
		link[slot] = v.AsInt()
	}
	m.mp = link[inst.MarkDynamicLink]
	m.ep = link[inst.MarkExtremePointer]
	m.pc = link[inst.MarkReturnAddress]

	top := old
	if code != inst.P {
		top++
	}
	for a := top; a < m.sp; a++ {
		m.dstore[a] = bytecode.Undefined
	}
	m.sp = top
	return nil
}

// callNative pops argc arguments back into source order and calls the
// native. A function's result is pushed unless the call suspended or
// stopped the machine.
func (m *Machine) callNative(argc, index int) error {
	proc, ok := m.natives.At(index)
	if !ok {
		return faultf(UnknownInstruction, "no native procedure %d", index)
	}
	args := make([]bytecode.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	m.suspendedInCall.Store(false)
	m.inCall.Store(true)
	result, err := proc.Fn(m.ctl, args)
	m.inCall.Store(false)
	m.pollInput()

	if err != nil {
		var me *MachineError
		var f *fault
		if errors.As(err, &me) || errors.As(err, &f) {
			return err
		}
		return &fault{kind: Native, msg: fmt.Sprintf("%s: %v", proc.Name, err), err: err}
	}
	if proc.IsFunction() && m.State() == Running && !m.suspendedInCall.Load() {
		return m.push(result)
	}
	return nil
}
