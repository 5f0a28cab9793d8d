package vm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type op struct {
	code   inst.Opcode
	o1, o2 int
}

// testNatives registers WriteLn at index 0 plus any extra procedures.
func testNatives(t *testing.T, out *[]string, extra ...bytecode.NativeProcedure) *bytecode.Registry {
	t.Helper()
	reg := bytecode.NewRegistry()
	_, err := reg.Register(bytecode.NativeProcedure{
		Name: "WriteLn", ReturnType: inst.P, Variadic: true,
		Fn: func(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
			var sb strings.Builder
			for _, a := range args {
				sb.WriteString(a.String())
			}
			ctl.WriteLine(sb.String())
			return bytecode.Undefined, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range extra {
		if _, err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func assemble(t *testing.T, reg *bytecode.Registry, consts []bytecode.Value, code ...op) *bytecode.Image {
	t.Helper()
	im := bytecode.NewImage(reg)
	for _, c := range consts {
		if _, err := im.AddConstant(c); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range code {
		if _, err := im.Emit(c.code, c.o1, c.o2, ""); err != nil {
			t.Fatalf("emit %s: %v", c.code, err)
		}
	}
	im.Freeze()
	return im
}

func newMachine(t *testing.T, im *bytecode.Image, out *[]string, opts ...Option) *Machine {
	t.Helper()
	m, err := New(im, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetOutputCallback(func(line string) { *out = append(*out, line) })
	return m
}

// runToEnd steps the machine until it leaves Running.
func runToEnd(t *testing.T, m *Machine) {
	t.Helper()
	m.Run()
	for i := 0; m.State() == Running; i++ {
		if i > 1000 {
			t.Fatal("program did not stop")
		}
		m.Step(1000)
	}
}

func machineErr(t *testing.T, m *Machine) *MachineError {
	t.Helper()
	var me *MachineError
	if !errors.As(m.Err(), &me) {
		t.Fatalf("Err() = %v, want *MachineError", m.Err())
	}
	return me
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

func TestFunctionCallAndReturn(t *testing.T) {
	var out []string
	reg := testNatives(t, &out)
	im := assemble(t, reg, []bytecode.Value{bytecode.Int(7)},
		op{inst.MST, 0, 0},
		op{inst.CUP, 0, 3},
		op{inst.STP, 0, 0},
		// main: one variable at 5
		op{inst.ENT, inst.RegSP, 6},
		op{inst.LDA, 0, 5},
		op{inst.MST, 0, 0},
		op{inst.LDC, int(inst.I), 0},
		op{inst.CUP, 1, 12},
		op{inst.STI, int(inst.I), 0},
		op{inst.LVI, 0, 5},
		op{inst.CSP, 1, 0},
		op{inst.RTN, int(inst.P), 0},
		// double(n): result := n + n
		op{inst.ENT, inst.RegSP, 6},
		op{inst.LDA, 0, 0},
		op{inst.LVI, 0, 5},
		op{inst.LVI, 0, 5},
		op{inst.ADI, 0, 0},
		op{inst.STI, int(inst.I), 0},
		op{inst.RTN, int(inst.I), 0},
	)
	m := newMachine(t, im, &out)
	runToEnd(t, m)

	if m.Err() != nil {
		t.Fatalf("Err() = %v", m.Err())
	}
	if len(out) != 1 || out[0] != "14" {
		t.Errorf("output = %q, want [14]", out)
	}
	if m.SP() != 0 || m.MP() != 0 {
		t.Errorf("sp = %d, mp = %d after the run, want 0, 0", m.SP(), m.MP())
	}
}

func TestCallRoundTripRegisters(t *testing.T) {
	var out []string
	im := assemble(t, nil, nil,
		op{inst.LDC, int(inst.B), 1},
		op{inst.LDC, int(inst.B), 1},
		op{inst.MST, 0, 0},
		op{inst.CUP, 0, 5},
		op{inst.STP, 0, 0},
		// empty procedure
		op{inst.ENT, inst.RegSP, inst.MarkSize},
		op{inst.RTN, int(inst.P), 0},
	)
	m := newMachine(t, im, &out)
	m.Run()

	// Two words sit below the mark, so the callee's frame starts at 2.
	steps := []struct {
		name       string
		pc, sp, mp int
	}{
		{"LDC", 1, 1, 0},
		{"LDC", 2, 2, 0},
		{"MST", 3, 2 + inst.MarkSize, 0},
		{"CUP", 5, 2 + inst.MarkSize, 2},
		{"ENT", 6, 2 + inst.MarkSize, 2},
		{"RTN", 4, 2, 0},
	}
	for _, st := range steps {
		m.StepOnce()
		if m.Err() != nil {
			t.Fatalf("%s: %v", st.name, m.Err())
		}
		if m.PC() != st.pc || m.SP() != st.sp || m.MP() != st.mp {
			t.Errorf("after %s: pc = %d, sp = %d, mp = %d, want %d, %d, %d",
				st.name, m.PC(), m.SP(), m.MP(), st.pc, st.sp, st.mp)
		}
	}
	m.StepOnce()
	if m.State() != Stopped {
		t.Errorf("state = %s after STP", m.State())
	}
}

func TestStaticLinkReachesEnclosingFrame(t *testing.T) {
	var out []string
	reg := testNatives(t, &out)
	im := assemble(t, reg, []bytecode.Value{bytecode.Int(5)},
		op{inst.MST, 0, 0},
		op{inst.CUP, 0, 3},
		op{inst.STP, 0, 0},
		// main: x at 5; x := 5; inner
		op{inst.ENT, inst.RegSP, 6},
		op{inst.LDA, 0, 5},
		op{inst.LDC, int(inst.I), 0},
		op{inst.STI, int(inst.I), 0},
		op{inst.MST, 0, 0},
		op{inst.CUP, 0, 10},
		op{inst.RTN, int(inst.P), 0},
		// inner: pad local, WriteLn(x)
		op{inst.ENT, inst.RegSP, 8},
		op{inst.LVI, 1, 5},
		op{inst.CSP, 1, 0},
		op{inst.RTN, int(inst.P), 0},
	)
	m := newMachine(t, im, &out)
	runToEnd(t, m)
	if len(out) != 1 || out[0] != "5" {
		t.Errorf("output = %q, want [5]", out)
	}
}

func TestTypedConstantsLoadOnReset(t *testing.T) {
	im := bytecode.NewImage(nil)
	if _, err := im.AddTypedConstants([]bytecode.Value{bytecode.Int(7), bytecode.Int(9)}); err != nil {
		t.Fatal(err)
	}
	im.Emit(inst.STP, 0, 0, "")
	im.Freeze()

	m, err := New(im, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.SP() != 2 || m.NP() != m.StoreSize() {
		t.Errorf("sp = %d, np = %d", m.SP(), m.NP())
	}
	v, err := m.Memory(1)
	if err != nil || !v.Equal(bytecode.Int(9)) {
		t.Errorf("Memory(1) = %v, %v", v, err)
	}
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

func TestNativeArgumentsInSourceOrder(t *testing.T) {
	var out []string
	var got []bytecode.Value
	reg := testNatives(t, &out, bytecode.NativeProcedure{
		Name: "Cat", ReturnType: inst.S, Variadic: true,
		Fn: func(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
			got = args
			var sb strings.Builder
			for _, a := range args {
				sb.WriteString(a.String())
			}
			return bytecode.String(sb.String()), nil
		},
	})
	im := assemble(t, reg, []bytecode.Value{bytecode.Int(1), bytecode.Int(2), bytecode.Int(3)},
		op{inst.LDC, int(inst.I), 0},
		op{inst.LDC, int(inst.I), 1},
		op{inst.LDC, int(inst.I), 2},
		op{inst.CSP, 3, 1},
		op{inst.CSP, 1, 0},
		op{inst.STP, 0, 0},
	)
	m := newMachine(t, im, &out)
	runToEnd(t, m)

	if len(got) != 3 || got[0].I != 1 || got[2].I != 3 {
		t.Errorf("args = %v", got)
	}
	if len(out) != 1 || out[0] != "123" {
		t.Errorf("output = %q, want [123]", out)
	}
}

func TestNativeErrorStopsMachine(t *testing.T) {
	var out []string
	boom := errors.New("boom")
	reg := testNatives(t, &out, bytecode.NativeProcedure{
		Name: "Fail", ReturnType: inst.P,
		Fn: func(bytecode.Control, []bytecode.Value) (bytecode.Value, error) {
			return bytecode.Undefined, boom
		},
	})
	im := assemble(t, reg, nil,
		op{inst.CSP, 0, 1},
		op{inst.STP, 0, 0},
	)
	m := newMachine(t, im, &out)
	runToEnd(t, m)

	me := machineErr(t, m)
	if me.Kind != Native || !errors.Is(me, boom) {
		t.Errorf("error = %v (kind %s)", me, me.Kind)
	}
	if !strings.Contains(me.Msg, "Fail") {
		t.Errorf("message %q does not name the native", me.Msg)
	}
}

func TestHaltFromNativeSkipsResult(t *testing.T) {
	var out []string
	reg := testNatives(t, &out, bytecode.NativeProcedure{
		Name: "HaltValue", ReturnType: inst.I,
		Fn: func(ctl bytecode.Control, _ []bytecode.Value) (bytecode.Value, error) {
			ctl.Stop()
			return bytecode.Int(1), nil
		},
	})
	im := assemble(t, reg, nil,
		op{inst.CSP, 0, 1},
		op{inst.CSP, 1, 0},
		op{inst.STP, 0, 0},
	)
	m := newMachine(t, im, &out)
	runToEnd(t, m)
	if m.SP() != 0 || len(out) != 0 {
		t.Errorf("sp = %d, output = %q", m.SP(), out)
	}
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestDivideByZero(t *testing.T) {
	tests := []struct {
		name   string
		code   inst.Opcode
		consts []bytecode.Value
	}{
		{"div", inst.DVI, []bytecode.Value{bytecode.Int(1), bytecode.Int(0)}},
		{"mod", inst.MOD, []bytecode.Value{bytecode.Int(1), bytecode.Int(0)}},
		{"real", inst.DVR, []bytecode.Value{bytecode.Real(1.5), bytecode.Real(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []string
			finished := 0
			typ := int(inst.I)
			if tt.code == inst.DVR {
				typ = int(inst.R)
			}
			im := assemble(t, testNatives(t, &out), tt.consts,
				op{inst.LDC, typ, 0},
				op{inst.LDC, typ, 1},
				op{tt.code, 0, 0},
				op{inst.CSP, 1, 0},
				op{inst.STP, 0, 0},
			)
			m := newMachine(t, im, &out)
			m.SetFinishCallback(func(float64) { finished++ })
			runToEnd(t, m)

			me := machineErr(t, m)
			if me.Kind != DivideByZero {
				t.Errorf("kind = %s", me.Kind)
			}
			if me.Snapshot.PC != 2 || !strings.HasPrefix(me.Snapshot.Instruction, tt.code.Name()) {
				t.Errorf("snapshot = %+v", me.Snapshot)
			}
			if len(out) != 0 {
				t.Errorf("output = %q, want none", out)
			}
			if finished != 1 {
				t.Errorf("finish fired %d times", finished)
			}
		})
	}
}

func TestInvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		code []op
	}{
		{"load in gap", []op{{inst.LDC, int(inst.I), 0}, {inst.LDI, int(inst.I), 0}}},
		{"store in gap", []op{{inst.LDC, int(inst.I), 0}, {inst.LDC, int(inst.I), 0}, {inst.STI, int(inst.I), 0}}},
		{"value in gap", []op{{inst.LVI, 0, 50}}},
		{"underflow", []op{{inst.ADI, 0, 0}}},
		{"jump out of program", []op{{inst.UJP, 0, 999}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []string
			code := append(tt.code, op{inst.STP, 0, 0})
			im := assemble(t, nil, []bytecode.Value{bytecode.Int(100)}, code...)
			m := newMachine(t, im, &out)
			runToEnd(t, m)
			if me := machineErr(t, m); me.Kind != InvalidAddress {
				t.Errorf("kind = %s (%v)", me.Kind, me)
			}
		})
	}
}

func TestStackOverflow(t *testing.T) {
	var out []string
	im := assemble(t, nil, []bytecode.Value{bytecode.Int(1)},
		op{inst.LDC, int(inst.I), 0},
		op{inst.UJP, 0, 0},
	)
	m := newMachine(t, im, &out, WithStoreSize(64))
	runToEnd(t, m)
	if me := machineErr(t, m); me.Kind != StackOverflow {
		t.Errorf("kind = %s", me.Kind)
	}
}

func TestSetOperationsAreRejected(t *testing.T) {
	var out []string
	im := assemble(t, nil, nil, op{inst.INN, 0, 0}, op{inst.STP, 0, 0})
	m := newMachine(t, im, &out)
	runToEnd(t, m)
	if me := machineErr(t, m); me.Kind != UnknownInstruction {
		t.Errorf("kind = %s", me.Kind)
	}
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func TestBooleanOpcodes(t *testing.T) {
	tests := []struct {
		code inst.Opcode
		want [4]bool // (F,F) (F,T) (T,F) (T,T)
	}{
		{inst.AND, [4]bool{false, false, false, true}},
		{inst.IOR, [4]bool{false, true, true, true}},
		{inst.XOR, [4]bool{false, true, true, false}},
	}
	for _, tt := range tests {
		for i, want := range tt.want {
			a, b := i>>1, i&1
			var out []string
			im := assemble(t, nil, nil,
				op{inst.LDC, int(inst.B), a},
				op{inst.LDC, int(inst.B), b},
				op{tt.code, int(inst.B), 0},
				op{inst.STP, 0, 0},
			)
			m := newMachine(t, im, &out)
			runToEnd(t, m)
			v, err := m.Memory(0)
			if err != nil {
				t.Fatal(err)
			}
			if v.Kind != bytecode.KindBool || v.Truthy() != want {
				t.Errorf("%d %s %d = %v, want %v", a, tt.code, b, v, want)
			}
		}
	}

	var out []string
	im := assemble(t, nil, []bytecode.Value{bytecode.Int(3)},
		op{inst.LDC, int(inst.I), 0},
		op{inst.NOT, 0, 0},
		op{inst.STP, 0, 0},
	)
	m := newMachine(t, im, &out)
	runToEnd(t, m)
	if v, _ := m.Memory(0); v.Truthy() || v.Kind != bytecode.KindBool {
		t.Errorf("not 3 = %v, want FALSE", v)
	}
}

func TestArithmeticAndConversion(t *testing.T) {
	tests := []struct {
		name   string
		consts []bytecode.Value
		code   []op
		want   bytecode.Value
	}{
		{"mod keeps dividend sign", []bytecode.Value{bytecode.Int(-7), bytecode.Int(3)},
			[]op{{inst.LDC, int(inst.I), 0}, {inst.LDC, int(inst.I), 1}, {inst.MOD, 0, 0}}, bytecode.Int(-1)},
		{"div truncates", []bytecode.Value{bytecode.Int(-7), bytecode.Int(2)},
			[]op{{inst.LDC, int(inst.I), 0}, {inst.LDC, int(inst.I), 1}, {inst.DVI, 0, 0}}, bytecode.Int(-3)},
		{"real widens int", []bytecode.Value{bytecode.Int(1), bytecode.Real(0.5)},
			[]op{{inst.LDC, int(inst.I), 0}, {inst.LDC, int(inst.R), 1}, {inst.ADR, 0, 0}}, bytecode.Real(1.5)},
		{"abs", []bytecode.Value{bytecode.Int(-4)},
			[]op{{inst.LDC, int(inst.I), 0}, {inst.ABI, 0, 0}}, bytecode.Int(4)},
		{"square", []bytecode.Value{bytecode.Real(1.5)},
			[]op{{inst.LDC, int(inst.R), 0}, {inst.SQR, 0, 0}}, bytecode.Real(2.25)},
		{"round", []bytecode.Value{bytecode.Real(2.5)},
			[]op{{inst.LDC, int(inst.R), 0}, {inst.RND, 0, 0}}, bytecode.Int(3)},
		{"trunc", []bytecode.Value{bytecode.Real(-2.7)},
			[]op{{inst.LDC, int(inst.R), 0}, {inst.TRC, 0, 0}}, bytecode.Int(-2)},
		{"chr", []bytecode.Value{bytecode.Int(65)},
			[]op{{inst.LDC, int(inst.I), 0}, {inst.CHR, 0, 0}}, bytecode.Char('A')},
		{"ord", nil,
			[]op{{inst.LDC, int(inst.C), 'a'}, {inst.ORD, 0, 0}}, bytecode.Int(97)},
		{"inc char", nil,
			[]op{{inst.LDC, int(inst.C), 'a'}, {inst.INC, int(inst.C), 0}}, bytecode.Char('b')},
		{"index", []bytecode.Value{bytecode.Int(10), bytecode.Int(3)},
			[]op{{inst.LDC, int(inst.I), 0}, {inst.LDC, int(inst.I), 1}, {inst.IXA, 0, 4}}, bytecode.Int(22)},
		{"string compare", []bytecode.Value{bytecode.String("abc"), bytecode.String("abd")},
			[]op{{inst.LDC, int(inst.S), 0}, {inst.LDC, int(inst.S), 1}, {inst.LES, int(inst.S), 0}}, bytecode.Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []string
			code := append(tt.code, op{inst.STP, 0, 0})
			m := newMachine(t, assemble(t, nil, tt.consts, code...), &out)
			runToEnd(t, m)
			if m.Err() != nil {
				t.Fatal(m.Err())
			}
			v, _ := m.Memory(0)
			if v.Kind != tt.want.Kind || !v.Equal(tt.want) {
				t.Errorf("result = %v (%s), want %v (%s)", v, v.Kind, tt.want, tt.want.Kind)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

func TestHeapReclaimsOnlyTopBlock(t *testing.T) {
	var out []string
	m := newMachine(t, assemble(t, nil, nil, op{inst.STP, 0, 0}), &out)
	ctl := m.Control()
	top := m.StoreSize()

	a, err := ctl.Malloc(3)
	if err != nil {
		t.Fatal(err)
	}
	if a != top-3 || m.NP() != top-4 {
		t.Fatalf("a = %d, np = %d", a, m.NP())
	}
	if size, _ := ctl.ReadMemory(a - 1); size.AsInt() != 3 {
		t.Errorf("size word = %v", size)
	}
	if w, _ := ctl.ReadMemory(a + 2); !w.Equal(bytecode.Int(0)) {
		t.Errorf("block not zeroed: %v", w)
	}
	b, err := ctl.Malloc(2)
	if err != nil {
		t.Fatal(err)
	}

	if err := ctl.Free(a); err != nil {
		t.Fatal(err)
	}
	if m.NP() != top-7 {
		t.Errorf("freeing the interior block moved np to %d", m.NP())
	}
	if err := ctl.Free(b); err != nil {
		t.Fatal(err)
	}
	if m.NP() != top-4 {
		t.Errorf("np = %d after freeing the top block, want %d", m.NP(), top-4)
	}
	if err := ctl.Free(a); err != nil {
		t.Fatal(err)
	}
	if m.NP() != top {
		t.Errorf("np = %d, want %d", m.NP(), top)
	}
}

func TestHeapFaults(t *testing.T) {
	var out []string
	m := newMachine(t, assemble(t, nil, nil, op{inst.STP, 0, 0}), &out, WithStoreSize(64))
	ctl := m.Control()

	var me *MachineError
	if _, err := ctl.Malloc(100); !errors.As(err, &me) || me.Kind != OutOfMemory {
		t.Errorf("Malloc(100) = %v", err)
	}
	if err := ctl.Free(10); !errors.As(err, &me) || me.Kind != InvalidAddress {
		t.Errorf("Free(10) = %v", err)
	}
	if err := ctl.WriteMemory(20, bytecode.Int(1)); !errors.As(err, &me) || me.Kind != InvalidAddress {
		t.Errorf("WriteMemory in gap = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestStopIsIdempotent(t *testing.T) {
	var out []string
	m := newMachine(t, assemble(t, nil, nil, op{inst.UJP, 0, 0}), &out)
	calls := 0
	var elapsed float64 = -1
	m.SetFinishCallback(func(s float64) { calls++; elapsed = s })

	m.Stop()
	if calls != 0 {
		t.Fatal("stopping a stopped machine fired finish")
	}
	m.Run()
	m.Step(10)
	m.Stop()
	m.Stop()
	if calls != 1 || elapsed < 0 {
		t.Errorf("finish calls = %d, elapsed = %v", calls, elapsed)
	}
	if m.Step(10) != 0 {
		t.Error("a stopped machine executed instructions")
	}
}

func TestRunFinishesTheRunInProgress(t *testing.T) {
	var out []string
	m := newMachine(t, assemble(t, nil, nil, op{inst.UJP, 0, 0}), &out)
	calls := 0
	m.SetFinishCallback(func(float64) { calls++ })

	for _, suspend := range []bool{false, true} {
		m.Run()
		m.Step(10)
		if suspend {
			m.Suspend()
		}
		before := calls
		m.Run()
		if calls != before+1 {
			t.Errorf("restart (suspended %v) fired finish %d times", suspend, calls-before)
		}
		if m.State() != Running {
			t.Errorf("state = %s after Run", m.State())
		}
	}
	m.Stop()
	if calls != 4 {
		t.Errorf("finish calls = %d, want 4", calls)
	}
}

func TestNewRejectsUnfrozenImage(t *testing.T) {
	im := bytecode.NewImage(nil)
	im.Emit(inst.STP, 0, 0, "")
	if _, err := New(im, nil); err == nil {
		t.Error("expected an error for an image still being built")
	}
}

func TestSuspendStopsStep(t *testing.T) {
	var out []string
	reg := testNatives(t, &out, bytecode.NativeProcedure{
		Name: "Wait", ReturnType: inst.P,
		Fn: func(ctl bytecode.Control, _ []bytecode.Value) (bytecode.Value, error) {
			ctl.Suspend()
			return bytecode.Undefined, nil
		},
	})
	im := assemble(t, reg, []bytecode.Value{bytecode.String("after")},
		op{inst.CSP, 0, 1},
		op{inst.LDC, int(inst.S), 0},
		op{inst.CSP, 1, 0},
		op{inst.STP, 0, 0},
	)
	m := newMachine(t, im, &out)
	m.Run()
	if n := m.Step(100); n != 1 || m.State() != Suspended {
		t.Fatalf("Step = %d, state %s", n, m.State())
	}
	if n := m.Step(100); n != 0 {
		t.Errorf("suspended machine executed %d instructions", n)
	}
	m.Resume()
	m.Step(100)
	if m.State() != Stopped || len(out) != 1 || out[0] != "after" {
		t.Errorf("state %s, output %q", m.State(), out)
	}
}

func TestDelayHoldsStep(t *testing.T) {
	var out []string
	reg := testNatives(t, &out, bytecode.NativeProcedure{
		Name: "Delay", ReturnType: inst.P, Params: []bytecode.NativeParam{{Type: inst.I}},
		Fn: func(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
			ctl.Delay(args[0].AsInt())
			return bytecode.Undefined, nil
		},
	})
	im := assemble(t, reg, []bytecode.Value{bytecode.Int(30)},
		op{inst.LDC, int(inst.I), 0},
		op{inst.CSP, 1, 1},
		op{inst.LDC, int(inst.I), 0},
		op{inst.CSP, 1, 0},
		op{inst.STP, 0, 0},
	)
	m := newMachine(t, im, &out)
	m.Run()
	if n := m.Step(100); n != 2 {
		t.Fatalf("Step = %d, want 2", n)
	}
	if m.State() != Running || m.PendingDelay() <= 0 {
		t.Fatalf("state %s, delay %v", m.State(), m.PendingDelay())
	}
	if n := m.Step(100); n != 0 {
		t.Errorf("delayed machine executed %d instructions", n)
	}

	start := time.Now()
	if err := m.Drive(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Errorf("Drive did not wait for the delay")
	}
	if len(out) != 1 || out[0] != "30" {
		t.Errorf("output = %q", out)
	}
}

func TestDriveCancellation(t *testing.T) {
	var out []string
	m := newMachine(t, assemble(t, nil, nil, op{inst.UJP, 0, 0}), &out)
	m.Run()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Drive(ctx, 1000); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drive = %v", err)
	}
	if m.State() != Stopped {
		t.Errorf("state = %s", m.State())
	}
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

func readLnNative() bytecode.NativeProcedure {
	return bytecode.NativeProcedure{
		Name: "ReadLn", ReturnType: inst.S,
		Fn: func(ctl bytecode.Control, _ []bytecode.Value) (bytecode.Value, error) {
			ctl.Suspend()
			err := ctl.ReadLine(func(line string) {
				if err := ctl.Push(bytecode.String(line)); err != nil {
					ctl.Stop()
					return
				}
				ctl.Resume()
			})
			return bytecode.Undefined, err
		},
	}
}

func echoImage(t *testing.T, out *[]string) *bytecode.Image {
	return assemble(t, testNatives(t, out, readLnNative()), nil,
		op{inst.CSP, 0, 1},
		op{inst.CSP, 1, 0},
		op{inst.STP, 0, 0},
	)
}

func TestReadLineSynchronousDelivery(t *testing.T) {
	var out []string
	m := newMachine(t, echoImage(t, &out), &out)
	m.SetInputCallback(func(deliver func(string)) { deliver("hello") })
	runToEnd(t, m)

	if m.Err() != nil {
		t.Fatal(m.Err())
	}
	if len(out) != 1 || out[0] != "hello" {
		t.Errorf("output = %q", out)
	}
	if m.SP() != 0 {
		t.Errorf("sp = %d after the run, the line was pushed twice", m.SP())
	}
}

func TestReadLineAsynchronousDelivery(t *testing.T) {
	var out []string
	m := newMachine(t, echoImage(t, &out), &out)
	m.SetInputCallback(func(deliver func(string)) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			deliver("later")
		}()
	})
	m.Run()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Drive(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != "later" {
		t.Errorf("output = %q", out)
	}
}

func TestReadLineWithoutInputCallback(t *testing.T) {
	var out []string
	m := newMachine(t, echoImage(t, &out), &out)
	runToEnd(t, m)
	if len(out) != 1 || out[0] != "" {
		t.Errorf("output = %q, want one empty line", out)
	}
}

func TestReadLineRequiresSuspension(t *testing.T) {
	var out []string
	reg := testNatives(t, &out, bytecode.NativeProcedure{
		Name: "Eager", ReturnType: inst.P,
		Fn: func(ctl bytecode.Control, _ []bytecode.Value) (bytecode.Value, error) {
			return bytecode.Undefined, ctl.ReadLine(func(string) {})
		},
	})
	m := newMachine(t, assemble(t, reg, nil, op{inst.CSP, 0, 1}, op{inst.STP, 0, 0}), &out)
	runToEnd(t, m)
	if !errors.Is(m.Err(), ErrNotSuspended) {
		t.Errorf("Err() = %v", m.Err())
	}
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

func TestDebugDump(t *testing.T) {
	var out, dumps []string
	m := newMachine(t, assemble(t, nil, []bytecode.Value{bytecode.Int(42)},
		op{inst.LDC, int(inst.I), 0},
		op{inst.STP, 0, 0},
	), &out)
	m.SetDebugCallback(func(d string) { dumps = append(dumps, d) })
	runToEnd(t, m)

	if len(dumps) != 2 {
		t.Fatalf("got %d dumps, want 2", len(dumps))
	}
	want := "pc =    1 STP 0 0     mp =   0 stack = [42] "
	if !strings.HasPrefix(dumps[0], want) || !strings.HasSuffix(dumps[0], " heap = []") {
		t.Errorf("dump = %q", dumps[0])
	}
}

func TestSnapshotClipsStack(t *testing.T) {
	s := Snapshot{Stack: []bytecode.Value{bytecode.Int(1), bytecode.String("x")}, StackClipped: true}
	if got := renderWords(s.Stack, s.StackClipped); got != "[...,1,'x']" {
		t.Errorf("render = %q", got)
	}

	var out []string
	code := make([]op, 0, 26)
	for range 25 {
		code = append(code, op{inst.LDC, int(inst.B), 1})
	}
	code = append(code, op{inst.STP, 0, 0})
	m := newMachine(t, assemble(t, nil, nil, code...), &out)
	runToEnd(t, m)
	snap := m.Snapshot()
	if len(snap.Stack) != stackDisplay || !snap.StackClipped {
		t.Errorf("stack of %d words, clipped %v", len(snap.Stack), snap.StackClipped)
	}
}

func TestSnapshotClipsHeap(t *testing.T) {
	var out []string
	m := newMachine(t, assemble(t, nil, nil, op{inst.STP, 0, 0}), &out)
	ctl := m.Control()

	tests := []struct {
		alloc   int
		clipped bool
	}{
		{3, false},  // 4 words with the size word
		{15, false}, // 20 words, exactly the display
		{1, true},   // 22 words
	}
	for _, tt := range tests {
		if _, err := ctl.Malloc(tt.alloc); err != nil {
			t.Fatal(err)
		}
		snap := m.Snapshot()
		if snap.HeapClipped != tt.clipped || len(snap.Heap) > heapDisplay {
			t.Errorf("after %d more words: %d heap words, clipped %v", tt.alloc, len(snap.Heap), snap.HeapClipped)
		}
		if got := strings.Contains(snap.String(), " heap = [...,"); got != tt.clipped {
			t.Errorf("dump %q marks clipping %v, want %v", snap.String(), got, tt.clipped)
		}
	}
}

func TestProfilerCountsExecution(t *testing.T) {
	var out []string
	im := assemble(t, testNatives(t, &out), nil,
		op{inst.MST, 0, 0},
		op{inst.CUP, 0, 3},
		op{inst.STP, 0, 0},
		op{inst.ENT, inst.RegSP, 5},
		op{inst.RTN, int(inst.P), 0},
	)
	m := newMachine(t, im, &out)
	p := NewProfiler()
	m.SetProfiler(p)
	runToEnd(t, m)

	if got := p.OpcodeCount(inst.CUP); got != 1 {
		t.Errorf("CUP count = %d", got)
	}
	if cp := p.GetCallProfile(3); cp == nil || cp.CallCount != 1 {
		t.Errorf("call profile = %+v", cp)
	}
	if stats := p.Stats(); stats.Instructions != 5 || stats.Targets != 1 {
		t.Errorf("stats = %+v", stats)
	}

	var sb strings.Builder
	if err := p.Report(&sb, im); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), "5 instructions") {
		t.Errorf("report = %q", sb.String())
	}
}

func TestProfilerHotThreshold(t *testing.T) {
	p := NewProfiler()
	p.CallHotThreshold = 3
	hot := 0
	p.OnHot = func(int, *CallProfile) { hot++ }

	for i := 0; i < 2; i++ {
		if p.RecordCall(7) {
			t.Fatal("hot too early")
		}
	}
	if !p.RecordCall(7) || !p.IsCallHot(7) {
		t.Error("target should become hot at the threshold")
	}
	if p.RecordCall(7) {
		t.Error("hot fired twice")
	}
	if hot != 1 || p.Stats().HotTargets != 1 {
		t.Errorf("hot = %d, stats = %+v", hot, p.Stats())
	}
	p.Reset()
	if p.Stats().Calls != 0 {
		t.Error("Reset kept counts")
	}
}
