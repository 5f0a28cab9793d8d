package bytecode

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/pmachine/inst"
)

func TestAddConstantDeduplicates(t *testing.T) {
	im := NewImage(nil)

	a, _ := im.AddConstant(Int(7))
	b, _ := im.AddConstant(Int(7))
	if a != b {
		t.Errorf("same constant got indices %d and %d", a, b)
	}

	c, _ := im.AddConstant(Real(7))
	d, _ := im.AddConstant(String("7"))
	e, _ := im.AddConstant(Bool(true))
	if !(a < c && c < d && d < e) {
		t.Errorf("distinct constants got indices %d %d %d %d, want increasing", a, c, d, e)
	}
	if len(im.Constants()) != 4 {
		t.Errorf("pool size = %d, want 4", len(im.Constants()))
	}
}

func TestEmitAndPatch(t *testing.T) {
	im := NewImage(nil)

	addr, err := im.Emit(inst.FJP, 0, 0, "skip")
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if addr != 0 || im.NextAddress() != 1 {
		t.Fatalf("addr = %d next = %d", addr, im.NextAddress())
	}
	im.Emit(inst.UJP, 0, 0, "")
	if err := im.SetOperand2(addr, 2); err != nil {
		t.Fatalf("SetOperand2: %v", err)
	}
	i, _ := im.Fetch(addr)
	if i.Operand2() != 2 {
		t.Errorf("patched operand2 = %d, want 2", i.Operand2())
	}
	if err := im.SetOperand2(9, 0); err == nil {
		t.Error("expected error patching past the end")
	}
	if im.Comment(0) != "skip" {
		t.Errorf("comment = %q", im.Comment(0))
	}
}

func TestEmitPropagatesEncodingError(t *testing.T) {
	im := NewImage(nil)
	_, err := im.Emit(inst.LDA, inst.MaxOperand1+1, 0, "")
	var encErr *inst.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("err = %v, want *inst.EncodingError", err)
	}
	if im.Len() != 0 {
		t.Errorf("failed emit appended an instruction")
	}
}

func TestTypedConstantsAddresses(t *testing.T) {
	im := NewImage(nil)
	first, _ := im.AddTypedConstants([]Value{Int(1), Int(2)})
	second, _ := im.AddTypedConstants([]Value{Char('x')})
	if first != 0 || second != 2 {
		t.Errorf("addresses = %d, %d want 0, 2", first, second)
	}
	if im.TypedConstantsLen() != 3 {
		t.Errorf("len = %d", im.TypedConstantsLen())
	}
}

func TestFrozenImageRejectsMutation(t *testing.T) {
	im := NewImage(nil)
	idx, _ := im.AddConstant(Int(1))
	im.Emit(inst.STP, 0, 0, "")
	im.Freeze()

	if _, err := im.Emit(inst.STP, 0, 0, ""); !errors.Is(err, ErrFrozen) {
		t.Errorf("Emit err = %v", err)
	}
	if _, err := im.AddConstant(Int(2)); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddConstant err = %v", err)
	}
	if _, err := im.AddTypedConstants([]Value{Int(0)}); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddTypedConstants err = %v", err)
	}
	if err := im.SetOperand2(0, 1); !errors.Is(err, ErrFrozen) {
		t.Errorf("SetOperand2 err = %v", err)
	}
	if err := im.SetStartAddress(0); !errors.Is(err, ErrFrozen) {
		t.Errorf("SetStartAddress err = %v", err)
	}
	// Looking up an existing constant still works.
	if got, err := im.AddConstant(Int(1)); err != nil || got != idx {
		t.Errorf("existing constant = %d, %v", got, err)
	}
}

func TestDisassembleListing(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NativeProcedure{Name: "WriteLn", ReturnType: inst.P, Variadic: true,
		Fn: func(Control, []Value) (Value, error) { return Undefined, nil }})
	im := NewImage(reg)
	idx, _ := im.AddConstant(String("hi"))
	im.Emit(inst.LDC, int(inst.S), idx, "greeting")
	im.Emit(inst.CSP, 1, 0, "")
	im.Emit(inst.STP, 0, 0, "")

	out := im.String()
	for _, want := range []string{"LDC 5 0", "('hi')", "; greeting", "CSP 1 0", "(WriteLn)", "STP 0 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
